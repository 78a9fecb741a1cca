// Package api contains types for the API requests and responses.
package api

// CreateAgentResponse is returned after an agent registered.
type CreateAgentResponse struct {
	Code string `json:"code"`
	// Upload is set when the registration asked for a profile image upload.
	Upload *ImageUpload `json:"upload,omitempty"`
}

// ImageUpload describes the presigned PUT for the profile image.
type ImageUpload struct {
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	ExpiresIn int               `json:"expires_in"`
}

// ForgotCodeResponse carries the recovered agent code.
type ForgotCodeResponse struct {
	Code string `json:"code"`
}

// LinkResponse is returned when a report or photo bundle is opened.
type LinkResponse struct {
	URL string `json:"url"`
}
