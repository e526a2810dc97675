package http

import (
	"errors"
	"fmt"
	"net/http"

	"spendlog/internal/core"
	"spendlog/internal/log"
)

var errTemplatesMissing = errors.New("templates not loaded")

const storeUnavailable = "The expense store could not be reached. Please try again."

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Malformed request").Write(w)
		return
	}

	created, err := s.ctrl.Add(r.Context(), ParseDraft(p))
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}

	NewHTMXResponse().
		TriggerFormReset().
		TriggerViewRefresh(s.views.Version()).
		TriggerSuccessNotification(fmt.Sprintf("Added %s: %s", created.Category, created.Amount)).
		Write(w)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id := core.ExpenseID(r.PathValue("id"))
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Malformed request").Write(w)
		return
	}

	_, changed, err := s.ctrl.Update(r.Context(), id, ParsePatch(p))
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}

	resp := NewHTMXResponse()
	if changed {
		resp.TriggerViewRefresh(s.views.Version())
	} else {
		// Restores the edited cell to its stored value.
		resp.TriggerTableRefresh(s.views.Version())
	}
	resp.Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id := core.ExpenseID(r.PathValue("id"))
	if err := s.ctrl.Remove(r.Context(), id); err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	NewHTMXResponse().TriggerViewRefresh(s.views.Version()).Write(w)
}

// handleDeleteSelected deletes every selected expense. Deletions that
// succeed stay applied even when others fail.
func (s *Server) handleDeleteSelected(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.ctrl.RemoveSelected(r.Context())
	resp := NewHTMXResponse().
		TriggerViewRefresh(s.views.Version()).
		TriggerSelectionChanged(false)
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Batch delete partially failed",
			log.FieldOperation, log.OpDelete, "deleted", deleted, log.FieldError, err)
		resp.Status(http.StatusBadGateway).
			TriggerErrorNotification(fmt.Sprintf("Deleted %d expenses; some deletions failed.", deleted))
	} else if deleted > 0 {
		resp.TriggerSuccessNotification(fmt.Sprintf("Deleted %d expenses", deleted))
	}
	resp.Write(w)
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Malformed request").Write(w)
		return
	}
	id := core.ExpenseID(p.Get("id"))
	if id == "" {
		BadRequestError("Missing expense id").Write(w)
		return
	}
	canDelete := s.ctrl.ToggleSelection(id, ParseChecked(p.Get("selected")))
	NewHTMXResponse().TriggerSelectionChanged(canDelete).Write(w)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Malformed request").Write(w)
		return
	}
	if err := s.ctrl.SetBudget(r.Context(), p.Get("budget")); err != nil {
		s.fail(w, r, log.OpBudget, err)
		return
	}
	NewHTMXResponse().
		TriggerFormReset().
		TriggerViewRefresh(s.views.Version()).
		Write(w)
}

// handleSort reorders the table and returns it directly.
func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Malformed request").Write(w)
		return
	}
	if err := s.ctrl.Sort(core.SortKey(p.Get("key"))); err != nil {
		s.fail(w, r, log.OpSort, err)
		return
	}
	body, err := s.render(r.Context(), "table")
	if err != nil {
		InternalServerError("Rendering failed").Write(w)
		return
	}
	NewHTMXResponse().BodyHTML(body).Write(w)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Load(r.Context()); err != nil {
		s.fail(w, r, log.OpLoad, err)
		return
	}
	NewHTMXResponse().TriggerViewRefresh(s.views.Version()).Write(w)
}

// fail maps controller errors to responses. The controller has already
// logged store failures; validation messages go back to the user.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		UnprocessableEntityError(verr.Error()).Write(w)
	case errors.Is(err, core.ErrValidation):
		UnprocessableEntityError(err.Error()).Write(w)
	case errors.Is(err, core.ErrNetwork):
		BadGatewayError(storeUnavailable).Write(w)
	default:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Unexpected handler error",
			log.NewFields().WithOperation(op).WithError(err, log.ErrorTypeInternal).ToSlice()...)
		InternalServerError("Unexpected error").Write(w)
	}
}
