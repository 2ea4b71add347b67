package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gmsas95/paperflow/internal/classify"
	apperrors "github.com/gmsas95/paperflow/internal/errors"
	"github.com/gmsas95/paperflow/internal/lifecycle"
	"github.com/gmsas95/paperflow/internal/llm"
	"github.com/gmsas95/paperflow/internal/store"
)

const defaultUser = "api"

var knownStatuses = map[store.DocumentStatus]bool{
	store.StatusImported:      true,
	store.StatusPending:       true,
	store.StatusClassified:    true,
	store.StatusNeedsReview:   true,
	store.StatusAutoValidated: true,
	store.StatusValidated:     true,
	store.StatusSplit:         true,
	store.StatusError:         true,
}

// errorHandler maps application errors onto HTTP statuses
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}

	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrDocumentNotFound),
		errors.Is(err, apperrors.ErrFieldNotFound),
		errors.Is(err, apperrors.ErrValueNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidTransition),
		errors.Is(err, apperrors.ErrDuplicate),
		errors.Is(err, apperrors.ErrScanInProgress):
		status = fiber.StatusConflict
	case errors.Is(err, apperrors.ErrConfigInvalid):
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  apperrors.GetCode(err),
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   s.version,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	counts, err := s.store.CountByStatus(c.UserContext())
	if err != nil {
		return err
	}
	provider := llm.ProviderNone
	if s.ai != nil {
		provider = s.ai.Best(c.UserContext())
	}
	return c.JSON(fiber.Map{
		"version":     s.version,
		"uptime":      s.metrics.Uptime().Round(time.Second).String(),
		"ai_provider": provider,
		"documents":   counts,
	})
}

func (s *Server) handleScan(c *fiber.Ctx) error {
	report, err := s.pipeline.Scan(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(report)
}

// ==================== Documents ====================

func (s *Server) handleListDocuments(c *fiber.Ctx) error {
	status := store.DocumentStatus(c.Query("status", string(store.StatusNeedsReview)))
	if !knownStatuses[status] {
		return fiber.NewError(fiber.StatusBadRequest, "unknown status "+string(status))
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	docs, err := s.store.ListByStatus(c.UserContext(), status, limit)
	if err != nil {
		return err
	}
	for i := range docs {
		docs[i].Content = ""
	}
	return c.JSON(fiber.Map{"documents": docs, "count": len(docs)})
}

func (s *Server) handleGetDocument(c *fiber.Ctx) error {
	ctx := c.UserContext()
	doc, err := s.store.GetDocument(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	values, err := s.store.ListExtractedValues(ctx, doc.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"document": doc, "values": values})
}

func (s *Server) handleSupersede(c *fiber.Ctx) error {
	if err := s.pipeline.Supersede(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleApply(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.pipeline.ApplySuggestions(c.UserContext(), id); err != nil {
		return err
	}
	return s.respondDocument(c, id)
}

func (s *Server) handleReprocess(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.pipeline.Reprocess(c.UserContext(), id); err != nil {
		return err
	}
	return s.respondDocument(c, id)
}

type validateRequest struct {
	User            string   `json:"user"`
	Destination     string   `json:"destination"`
	Title           *string  `json:"title"`
	CorrespondentID *uint    `json:"correspondent_id"`
	DocumentTypeID  *uint    `json:"document_type_id"`
	TagIDs          []uint   `json:"tag_ids"`
	DocumentDate    string   `json:"document_date"`
	Amount          *float64 `json:"amount"`
}

func (s *Server) handleValidate(c *fiber.Ctx) error {
	var req validateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	o := lifecycle.Overrides{
		CorrespondentID: req.CorrespondentID,
		DocumentTypeID:  req.DocumentTypeID,
		TagIDs:          req.TagIDs,
		Amount:          req.Amount,
		Title:           req.Title,
		Destination:     req.Destination,
		User:            s.user(c, req.User),
	}
	if req.DocumentDate != "" {
		t, ok := classify.ParseDate(req.DocumentDate)
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "unreadable document_date")
		}
		o.DocumentDate = &t
	}

	doc, err := s.pipeline.Validate(c.UserContext(), c.Params("id"), o)
	if err != nil {
		return err
	}
	return c.JSON(doc)
}

// ==================== Learning ====================

type feedbackRequest struct {
	User  string `json:"user"`
	Value string `json:"value"`
}

func (s *Server) handleConfirm(c *fiber.Ctx) error {
	var req feedbackRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	if err := s.pipeline.Confirm(c.UserContext(), c.Params("id"), c.Params("code"), s.user(c, req.User)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleCorrect(c *fiber.Ctx) error {
	var req feedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Value) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "value is required")
	}
	if err := s.pipeline.Correct(c.UserContext(), c.Params("id"), c.Params("code"), req.Value, s.user(c, req.User)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleSuggestions(c *fiber.Ctx) error {
	var correspondentID *uint
	if v := c.QueryInt("correspondent_id", 0); v > 0 {
		id := uint(v)
		correspondentID = &id
	}
	history, err := s.pipeline.Suggestions(c.UserContext(), c.Params("code"), correspondentID, c.QueryInt("limit", 10))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"suggestions": history})
}

func (s *Server) respondDocument(c *fiber.Ctx, id string) error {
	doc, err := s.store.GetDocument(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(doc)
}

// user prefers the token subject over the body
func (s *Server) user(c *fiber.Ctx, fromBody string) string {
	if sub, ok := c.Locals(subjectKey).(string); ok && sub != "" {
		return sub
	}
	if fromBody = strings.TrimSpace(fromBody); fromBody != "" {
		return fromBody
	}
	return defaultUser
}
