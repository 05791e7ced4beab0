package broker

import (
	"context"

	"github.com/rs/zerolog"

	"zerodha-copier/internal/logging"
	"zerodha-copier/internal/models"
	"zerodha-copier/internal/security"
)

// GuardedGateway routes order placement through the access controller and
// the audit trail. Reads pass through untouched.
type GuardedGateway struct {
	Gateway
	accountID string
	access    *security.AccessController
	audit     *security.AuditLogger
	logger    zerolog.Logger
}

// Guard wraps gw. access and audit may be nil.
func Guard(gw Gateway, accountID string, access *security.AccessController, audit *security.AuditLogger, logger zerolog.Logger) *GuardedGateway {
	return &GuardedGateway{
		Gateway:   gw,
		accountID: accountID,
		access:    access,
		audit:     audit,
		logger:    logging.WithAccount(logger, accountID),
	}
}

// PlaceOrder refuses writes in read-only mode and audits every outcome.
func (g *GuardedGateway) PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	if g.access != nil {
		if err := g.access.CheckPermission(ctx, security.OpPlaceOrder); err != nil {
			g.logger.Warn().
				Str("exchange", string(req.Exchange)).
				Str("symbol", req.Symbol).
				Str("side", string(req.Side)).
				Int("quantity", req.Quantity).
				Str("tag", req.Tag).
				Msg("Read-only: would place order")
			return "", err
		}
	}

	orderID, err := g.Gateway.PlaceOrder(ctx, req)
	if g.audit != nil {
		if aerr := g.audit.LogOrder(ctx, g.accountID, orderID, string(req.Exchange), req.Symbol,
			string(req.Side), req.Quantity, req.Tag, err); aerr != nil {
			g.logger.Warn().Err(aerr).Msg("Failed to write audit event")
		}
	}
	return orderID, err
}

// GuardedConnector applies Guard to every gateway it opens and audits
// session attempts.
type GuardedConnector struct {
	next   Connector
	access *security.AccessController
	audit  *security.AuditLogger
	logger zerolog.Logger
}

// NewGuardedConnector wraps next.
func NewGuardedConnector(next Connector, access *security.AccessController, audit *security.AuditLogger, logger zerolog.Logger) *GuardedConnector {
	return &GuardedConnector{next: next, access: access, audit: audit, logger: logger}
}

// Connect opens and guards a gateway.
func (c *GuardedConnector) Connect(ctx context.Context, acct models.Account) (Gateway, error) {
	gw, err := c.next.Connect(ctx, acct)
	if c.audit != nil {
		_ = c.audit.LogSession(ctx, acct.ID, err)
	}
	if err != nil {
		return nil, err
	}
	return Guard(gw, acct.ID, c.access, c.audit, c.logger), nil
}
