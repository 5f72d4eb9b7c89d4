package workflowhttp

import (
	"net/http"

	"github.com/wellhead-erp/wellhead/internal/platform/httpx"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// TransitionView describes one edge of a lifecycle.
type TransitionView struct {
	Action        workflow.Action  `json:"action"`
	From          []workflow.State `json:"from"`
	To            workflow.State   `json:"to"`
	Roles         []workflow.Role  `json:"roles,omitempty"`
	Guards        []string         `json:"guards,omitempty"`
	RequireReason bool             `json:"require_reason,omitempty"`
	SegregateFrom workflow.Action  `json:"segregate_from,omitempty"`
}

// DefinitionView describes a registered lifecycle.
type DefinitionView struct {
	DocType     workflow.DocType `json:"doc_type"`
	Initial     workflow.State   `json:"initial"`
	States      []workflow.State `json:"states"`
	Terminal    []workflow.State `json:"terminal"`
	Transitions []TransitionView `json:"transitions"`
}

// Describe renders every machine of registry.
func Describe(registry *workflow.Registry) []DefinitionView {
	views := make([]DefinitionView, 0)
	for _, docType := range registry.DocTypes() {
		m, err := registry.Machine(docType)
		if err != nil {
			continue
		}
		view := DefinitionView{DocType: docType, Initial: m.Initial(), States: m.States(), Terminal: []workflow.State{}}
		for _, s := range view.States {
			if m.IsTerminal(s) {
				view.Terminal = append(view.Terminal, s)
			}
		}
		for _, t := range m.Transitions() {
			tv := TransitionView{Action: t.Action, From: t.From, To: t.To, Roles: t.Roles, RequireReason: t.RequireReason, SegregateFrom: t.SegregateFrom}
			for _, g := range t.Guards {
				tv.Guards = append(tv.Guards, g.Name)
			}
			view.Transitions = append(view.Transitions, tv)
		}
		views = append(views, view)
	}
	return views
}

// DefinitionsHandler serves GET /workflow/definitions.
func DefinitionsHandler(registry *workflow.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]any{"definitions": Describe(registry)})
	}
}
