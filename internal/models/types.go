// Package models defines the records the portal reads from and writes to the store.
package models

// Agent is the record stored at Agents/{code} when an agent registers.
type Agent struct {
	Name       string `json:"name"`
	Surname    string `json:"surname"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Image      string `json:"image,omitempty"` // s3://bucket/key of the profile image
	Registered bool   `json:"registered"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
}

// ClientProfile is the part of Users/{clientID} the portal shows.
type ClientProfile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email"`
}

// Registration is the form a prospective agent submits.
type Registration struct {
	FirstName        string `json:"first_name" validate:"required,max=80"`
	LastName         string `json:"last_name" validate:"required,max=80"`
	Email            string `json:"email" validate:"required,email"`
	Phone            string `json:"phone" validate:"required,phone"`
	ImageContentType string `json:"image_content_type" validate:"omitempty,imagetype"`
}

// Credentials is the portal login form.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// Recovery is the forgotten-code form.
type Recovery struct {
	Email string `json:"email" validate:"required,email"`
}
