package portal

import (
	"context"
	"errors"

	"github.com/kylejryan/claims-agent-portal/internal/claims"
)

var (
	// ErrInvalidTransition is returned when the event has no transition
	// from the current state. The machine stays where it was.
	ErrInvalidTransition = errors.New("portal: invalid transition")
	// ErrUnknownSelection is returned when an event names a client,
	// category or record that the current view does not offer.
	ErrUnknownSelection = errors.New("portal: unknown selection")
)

// State is the view the portal shows.
type State string

// States besides the record lists, which use the category name.
const (
	StateLogin     State = "login"
	StateClients   State = "clients"
	StateProfile   State = "profile"
	StateHousehold State = "household"
	StateModal     State = "modal"
)

// ListState is the state that shows the records of c.
func ListState(c claims.Category) State { return State(c) }

// IsList reports whether s shows a record list.
func (s State) IsList() bool { return claims.Category(s).Valid() }

// States lists every state.
func States() []State {
	out := []State{StateLogin, StateClients, StateProfile, StateHousehold}
	for _, c := range claims.TopLevel {
		out = append(out, ListState(c))
	}
	for _, c := range claims.Household {
		out = append(out, ListState(c))
	}
	return append(out, StateModal)
}

// Kind names an event type.
type Kind string

// Event kinds.
const (
	KindLogin          Kind = "login"
	KindLogout         Kind = "logout"
	KindSelectClient   Kind = "select_client"
	KindOpenCategory   Kind = "open_category"
	KindSelectRecord   Kind = "select_record"
	KindViewReport     Kind = "view_report"
	KindDownloadPhotos Kind = "download_photos"
	KindDismiss        Kind = "dismiss"
	KindBack           Kind = "back"
)

// Event is something the agent did.
type Event interface {
	Kind() Kind
}

// Login signs the agent in.
type Login struct {
	Email    string
	Password string
}

// Logout signs the agent out from any state.
type Logout struct{}

// SelectClient opens a client's profile.
type SelectClient struct{ ClientID string }

// OpenCategory opens a record list, or the household picker when
// Category is "household".
type OpenCategory struct{ Category string }

// SelectRecord opens the action sheet for a record of the current list.
type SelectRecord struct{ Key string }

// ViewReport resolves the report link of the selected record.
type ViewReport struct{}

// DownloadPhotos resolves the photo bundle link of the selected record.
type DownloadPhotos struct{}

// Dismiss closes the action sheet.
type Dismiss struct{}

// Back returns to the parent view.
type Back struct{}

func (Login) Kind() Kind          { return KindLogin }
func (Logout) Kind() Kind         { return KindLogout }
func (SelectClient) Kind() Kind   { return KindSelectClient }
func (OpenCategory) Kind() Kind   { return KindOpenCategory }
func (SelectRecord) Kind() Kind   { return KindSelectRecord }
func (ViewReport) Kind() Kind     { return KindViewReport }
func (DownloadPhotos) Kind() Kind { return KindDownloadPhotos }
func (Dismiss) Kind() Kind        { return KindDismiss }
func (Back) Kind() Kind           { return KindBack }

// HouseholdCategory is the OpenCategory value for the household picker.
const HouseholdCategory = "household"

type transitionKey struct {
	from State
	kind Kind
}

// action performs the loads for a transition and returns the next state.
// It must not touch the machine when it returns an error.
type action func(m *Machine, ctx context.Context, ev Event) (State, error)

func buildTransitions() map[transitionKey]action {
	t := map[transitionKey]action{
		{StateLogin, KindLogin}:            (*Machine).login,
		{StateClients, KindSelectClient}:   (*Machine).selectClient,
		{StateProfile, KindOpenCategory}:   (*Machine).openFromProfile,
		{StateProfile, KindBack}:           (*Machine).back,
		{StateHousehold, KindOpenCategory}: (*Machine).openFromHousehold,
		{StateHousehold, KindBack}:         (*Machine).back,
		{StateModal, KindViewReport}:       (*Machine).viewReport,
		{StateModal, KindDownloadPhotos}:   (*Machine).downloadPhotos,
		{StateModal, KindDismiss}:          (*Machine).dismiss,
		{StateModal, KindBack}:             (*Machine).dismiss,
	}
	for _, s := range States() {
		if s.IsList() {
			t[transitionKey{s, KindSelectRecord}] = (*Machine).selectRecord
			t[transitionKey{s, KindBack}] = (*Machine).back
		}
		t[transitionKey{s, KindLogout}] = (*Machine).logout
	}
	return t
}

var kinds = []Kind{KindLogin, KindLogout, KindSelectClient, KindOpenCategory, KindSelectRecord, KindViewReport, KindDownloadPhotos, KindDismiss, KindBack}

// allowed lists the event kinds that have a transition out of s.
func allowed(t map[transitionKey]action, s State) []Kind {
	var out []Kind
	for _, k := range kinds {
		if _, ok := t[transitionKey{s, k}]; ok {
			out = append(out, k)
		}
	}
	return out
}
