package api

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-session/internal/quote"
	"github.com/Checker-Finance/quote-session/pkg/model"
)

// AccountHeader carries the caller's account, set by the upstream gateway.
const AccountHeader = "X-Account-ID"

const accountKey = "account"

// Sessions is the session registry used by the handler.
type Sessions interface {
	Open(wc model.WidgetContext) *quote.Session
	Get(id string) (*quote.Session, bool)
	Close(id string) bool
}

// BalanceReader serves cached balances.
type BalanceReader interface {
	All(ctx context.Context, accountID string) ([]model.Balance, error)
}

// SessionHandler exposes quote sessions over HTTP.
type SessionHandler struct {
	logger   *zap.Logger
	sessions Sessions
	balances BalanceReader
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(logger *zap.Logger, sessions Sessions, balances BalanceReader) *SessionHandler {
	return &SessionHandler{
		logger:   logger,
		sessions: sessions,
		balances: balances,
	}
}

// RequireAccount rejects requests without an account header.
func RequireAccount(c *fiber.Ctx) error {
	account := strings.TrimSpace(c.Get(AccountHeader))
	if account == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Error: AccountHeader + " header is required"})
	}
	c.Locals(accountKey, account)
	return c.Next()
}

func accountOf(c *fiber.Ctx) string {
	s, _ := c.Locals(accountKey).(string)
	return s
}

// OpenSession opens a session for a widget instance.
func (h *SessionHandler) OpenSession(c *fiber.Ctx) error {
	var req OpenSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error(), Kind: model.KindValidation})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error(), Kind: model.KindValidation})
	}

	s := h.sessions.Open(req.widgetContext(accountOf(c)))
	return c.Status(fiber.StatusCreated).JSON(SessionResponse{
		SessionID: s.ID(),
		View:      s.View(),
	})
}

// GetSession returns the session's current view.
func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	s, err := h.lookup(c)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(s.View())
}

// SetTrigger feeds widget input into the session.
func (h *SessionHandler) SetTrigger(c *fiber.Ctx) error {
	s, err := h.lookup(c)
	if err != nil {
		return writeError(c, err)
	}
	var req TriggerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error(), Kind: model.KindValidation})
	}
	if err := s.SetTrigger(req.input()); err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(s.View())
}

// Solicit requests a fresh quote for the current trigger.
func (h *SessionHandler) Solicit(c *fiber.Ctx) error {
	s, err := h.lookup(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := s.SolicitQuote(); err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(s.View())
}

// Accept executes the held quote and blocks until it resolves.
func (h *SessionHandler) Accept(c *fiber.Ctx) error {
	s, err := h.lookup(c)
	if err != nil {
		return writeError(c, err)
	}

	h.logger.Info("api.accept",
		zap.String("session", s.ID()),
		zap.String("account", accountOf(c)))

	if err := s.AcceptQuote(c.UserContext()); err != nil {
		h.logger.Warn("api.accept.failed",
			zap.String("session", s.ID()),
			zap.Error(err))
		return writeError(c, err)
	}
	return c.JSON(s.View())
}

// Reset clears the session back to idle.
func (h *SessionHandler) Reset(c *fiber.Ctx) error {
	s, err := h.lookup(c)
	if err != nil {
		return writeError(c, err)
	}
	s.ResetQuote()
	return c.JSON(s.View())
}

// CloseSession disposes the session.
func (h *SessionHandler) CloseSession(c *fiber.Ctx) error {
	if _, err := h.lookup(c); err != nil {
		return writeError(c, err)
	}
	h.sessions.Close(c.Params("id"))
	return c.SendStatus(fiber.StatusNoContent)
}

// Balances returns the caller's cached balances.
func (h *SessionHandler) Balances(c *fiber.Ctx) error {
	account := accountOf(c)
	bals, err := h.balances.All(c.UserContext(), account)
	if err != nil {
		h.logger.Error("api.balances.failed",
			zap.String("account", account),
			zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: err.Error()})
	}
	if bals == nil {
		bals = []model.Balance{}
	}
	return c.JSON(BalancesResponse{AccountID: account, Balances: bals})
}

var errSessionNotFound = errors.New("session not found")

// lookup resolves the :id session. Sessions of other accounts are reported as missing.
func (h *SessionHandler) lookup(c *fiber.Ctx) (*quote.Session, error) {
	s, ok := h.sessions.Get(c.Params("id"))
	if !ok || s.Widget().AccountID != accountOf(c) {
		return nil, errSessionNotFound
	}
	return s, nil
}

func writeError(c *fiber.Ctx, err error) error {
	if errors.Is(err, errSessionNotFound) || errors.Is(err, model.ErrSessionClosed) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
	}
	e := model.AsError(err)
	return c.Status(statusFor(e.Kind)).JSON(ErrorResponse{
		Error:  e.Error(),
		Kind:   e.Kind,
		Reason: e.Reason,
	})
}

func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return fiber.StatusBadRequest
	case model.KindDuplicateSubmission, model.KindAlreadyFilled:
		return fiber.StatusConflict
	case model.KindQuoteExpired:
		return fiber.StatusGone
	case model.KindQuoteRejected:
		return fiber.StatusUnprocessableEntity
	case model.KindNetwork:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
