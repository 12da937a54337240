// Package dispatch maps the three protocol verbs onto allocator and store
// calls and is the only place where engine errors become wire-protocol text.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eleven-am/rentd/internal/domain"
	"github.com/eleven-am/rentd/internal/ports"
)

// CRLF terminates every outbound line of the protocol.
const CRLF = "\r\n"

const (
	verbAdd    = "add"
	verbStatus = "status"
	verbRent   = "rent"
)

const (
	msgDuplicate     = "error: slogan already exists"
	msgClientHasOne  = "error: You can rent only one slogan per client"
	msgNoneAvailable = "error: Can't rent at this time"
	msgInternal      = "error: internal error"
)

type Dispatcher struct {
	allocator ports.Allocator
	store     ports.ItemStore
	registry  ports.ClientRegistry
	logger    *slog.Logger
}

func NewDispatcher(allocator ports.Allocator, store ports.ItemStore, registry ports.ClientRegistry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		allocator: allocator,
		store:     store,
		registry:  registry,
		logger:    logger.With("component", "dispatcher"),
	}
}

// ParseLine splits one inbound message into verb and argument. The verb is
// case-insensitive and the argument is trimmed of surrounding whitespace.
func ParseLine(line string) (verb, arg string) {
	verb, arg, found := strings.Cut(line, "::")
	if !found {
		arg = ""
	}
	return strings.ToLower(strings.TrimSpace(verb)), strings.TrimSpace(arg)
}

// Dispatch executes one command for clientID and returns the reply text,
// already CRLF-terminated. ok is false for unrecognized verbs, which are
// silently ignored per the protocol.
func (d *Dispatcher) Dispatch(ctx context.Context, clientID, line string) (reply string, ok bool) {
	verb, arg := ParseLine(line)

	switch verb {
	case verbAdd:
		return d.handleAdd(ctx, arg), true
	case verbStatus:
		return d.handleStatus(ctx), true
	case verbRent:
		return d.handleRent(ctx, clientID), true
	default:
		d.logger.Debug("unrecognized verb ignored", "verb", verb, "client_id", clientID)
		return "", false
	}
}

func (d *Dispatcher) handleAdd(ctx context.Context, content string) string {
	_, err := d.allocator.CreateItem(ctx, content)
	if err != nil {
		if domain.IsDuplicateContent(err) {
			return msgDuplicate + CRLF
		}
		d.logger.Error("add failed", "error", err.Error())
		return msgInternal + CRLF
	}
	return content + CRLF
}

func (d *Dispatcher) handleRent(ctx context.Context, clientID string) string {
	item, err := d.allocator.Rent(ctx, clientID)
	if err != nil {
		switch {
		case domain.IsClientHasLease(err):
			return msgClientHasOne + CRLF
		case domain.IsNoItemAvailable(err):
			return msgNoneAvailable + CRLF
		default:
			d.logger.Error("rent failed", "client_id", clientID, "error", err.Error())
			return msgInternal + CRLF
		}
	}
	return fmt.Sprintf("OK: id:%d title:%s", item.ID, item.Content) + CRLF
}

// handleStatus renders the dual listing: every item with its lease state,
// then every active client. Status is informational; a snapshot a few
// milliseconds stale is fine.
func (d *Dispatcher) handleStatus(ctx context.Context) string {
	var b strings.Builder

	b.WriteString("Slogans:" + CRLF)
	items, err := d.store.List(ctx)
	if err != nil {
		d.logger.Error("status listing failed", "error", err.Error())
		return msgInternal + CRLF
	}
	for _, item := range items {
		if item.Lease != nil {
			b.WriteString(fmt.Sprintf("%s - rented by %s", item.Content, item.Lease.ClientID) + CRLF)
		} else {
			b.WriteString(item.Content + " - not rented" + CRLF)
		}
	}

	b.WriteString("Clients:" + CRLF)
	for _, client := range d.registry.ListActive() {
		b.WriteString(fmt.Sprintf("%s:%s", client.RemoteAddr, client.ClientID) + CRLF)
	}

	b.WriteString(CRLF)
	return b.String()
}
