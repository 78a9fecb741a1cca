package portal

import (
	"slices"

	"github.com/kylejryan/claims-agent-portal/internal/claims"
	"github.com/kylejryan/claims-agent-portal/internal/directory"
	"github.com/kylejryan/claims-agent-portal/internal/models"
)

// Agent is the signed-in agent.
type Agent struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Modal is the action sheet of a selected record.
type Modal struct {
	Key    string `json:"key"`
	Link   string `json:"link,omitempty"`
	Notice string `json:"notice,omitempty"`
}

// View is a snapshot of the portal. It shares no memory with the machine.
type View struct {
	State    State                 `json:"state"`
	Agent    *Agent                `json:"agent,omitempty"`
	Clients  []directory.Client    `json:"clients,omitempty"`
	Client   *models.ClientProfile `json:"client,omitempty"`
	Category claims.Category       `json:"category,omitempty"`
	Records  []string              `json:"records,omitempty"`
	Modal    *Modal                `json:"modal,omitempty"`
	Message  string                `json:"message,omitempty"`
	Allowed  []Kind                `json:"allowed"`
}

func (m *Machine) view() View {
	v := View{
		State:    m.state,
		Clients:  slices.Clone(m.clients),
		Category: m.category,
		Records:  slices.Clone(m.records),
		Message:  m.message,
		Allowed:  allowed(m.table, m.state),
	}
	if m.identity != nil {
		v.Agent = &Agent{UID: m.identity.UID, Email: m.identity.Email, Code: m.agentCode}
	}
	if m.client != nil {
		c := *m.client
		v.Client = &c
	}
	if m.modal != nil {
		md := *m.modal
		v.Modal = &md
	}
	return v
}
