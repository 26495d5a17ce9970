package ledger

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var dniPattern = regexp.MustCompile(`^\d{7,8}$`)

// ClientInput is the data needed to register a client.
type ClientInput struct {
	FirstName  string
	LastName   string
	DNI        string
	Phone      string
	Address    string
	Occupation string
	Email      string
	Notes      string
}

func (in *ClientInput) normalize() {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.DNI = strings.TrimSpace(in.DNI)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	in.Occupation = strings.TrimSpace(in.Occupation)
	in.Email = strings.TrimSpace(in.Email)
}

func (in *ClientInput) validate() error {
	switch {
	case in.FirstName == "":
		return invalid("first_name", "first name is required")
	case in.LastName == "":
		return invalid("last_name", "last name is required")
	case in.DNI == "":
		return invalid("dni", "DNI is required")
	case !dniPattern.MatchString(in.DNI):
		return invalid("dni", "DNI must be 7 or 8 digits")
	case in.Phone == "":
		return invalid("phone", "phone is required")
	case in.Address == "":
		return invalid("address", "address is required")
	case in.Email != "" && !strings.Contains(in.Email, "@"):
		return invalid("email", "email is not valid")
	}
	return nil
}

// RegisterClient stores a new active client. DNIs are unique.
func (l *Ledger) RegisterClient(ctx context.Context, in ClientInput, actorID string) (client *models.Client, err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.RegisterClient")
	defer func() { l.finish(span, opRegisterClient, err) }()

	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := l.clock.Now().UTC()
	client = &models.Client{
		ID:         uuid.Must(uuid.NewV7()),
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		DNI:        in.DNI,
		Phone:      in.Phone,
		Address:    in.Address,
		Occupation: in.Occupation,
		Email:      in.Email,
		Notes:      in.Notes,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = l.inTx(ctx, opRegisterClient, func(tx store.Tx) error {
		if err := tx.CreateClient(ctx, client); err != nil {
			return fromStore("insert client", "client", client.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("client registered",
		zap.String("client_id", client.ID.String()),
		zap.String("actor", actorID),
	)
	return client, nil
}

// UpdateClient replaces the contact details of client id. The active flag is
// changed only through DeactivateClient and ReactivateClient.
func (l *Ledger) UpdateClient(ctx context.Context, id uuid.UUID, in ClientInput, actorID string) (client *models.Client, err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.UpdateClient")
	defer func() { l.finish(span, opUpdateClient, err) }()

	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	err = l.inTx(ctx, opUpdateClient, func(tx store.Tx) error {
		current, err := tx.GetClient(ctx, id)
		if err != nil {
			return fromStore("read client", "client", id, err)
		}
		current.FirstName = in.FirstName
		current.LastName = in.LastName
		current.DNI = in.DNI
		current.Phone = in.Phone
		current.Address = in.Address
		current.Occupation = in.Occupation
		current.Email = in.Email
		current.Notes = in.Notes
		current.UpdatedAt = l.clock.Now().UTC()
		if err := tx.UpdateClient(ctx, current); err != nil {
			return fromStore("update client", "client", id, err)
		}
		client = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("client updated",
		zap.String("client_id", id.String()),
		zap.String("actor", actorID),
	)
	return client, nil
}

// DeactivateClient hides the client from active listings. Its loans are untouched.
func (l *Ledger) DeactivateClient(ctx context.Context, id uuid.UUID, actorID string) error {
	return l.setClientActive(ctx, id, false, actorID)
}

func (l *Ledger) ReactivateClient(ctx context.Context, id uuid.UUID, actorID string) error {
	return l.setClientActive(ctx, id, true, actorID)
}

func (l *Ledger) setClientActive(ctx context.Context, id uuid.UUID, active bool, actorID string) (err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.SetClientActive",
		trace.WithAttributes(attribute.Bool("active", active)))
	defer func() { l.finish(span, opSetClientActive, err) }()

	err = l.inTx(ctx, opSetClientActive, func(tx store.Tx) error {
		if err := tx.SetClientActive(ctx, id, active, l.clock.Now()); err != nil {
			return fromStore("set client active", "client", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.Info("client active flag changed",
		zap.String("client_id", id.String()),
		zap.Bool("active", active),
		zap.String("actor", actorID),
	)
	return nil
}

func (l *Ledger) GetClient(ctx context.Context, id uuid.UUID) (client *models.Client, err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.GetClient")
	defer func() { l.finish(span, opGetClient, err) }()

	client, err = l.storage.GetClient(ctx, id)
	if err != nil {
		return nil, fromStore("read client", "client", id, err)
	}
	return client, nil
}

// ListClients returns clients ordered by last name, then first name.
func (l *Ledger) ListClients(ctx context.Context, activeOnly bool) (clients []*models.Client, err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.ListClients")
	defer func() { l.finish(span, opListClients, err) }()

	clients, err = l.storage.ListClients(ctx, activeOnly)
	if err != nil {
		return nil, &PersistenceError{Op: "list clients", Err: err}
	}
	return clients, nil
}
