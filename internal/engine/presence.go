package engine

import (
	"context"
	"fmt"

	"github.com/localsync/syncengine/internal/transport"
)

// Presence exposes the transport's optional presence extension, if the
// configured transport implements it. Inbound presence events from the
// transport are published on the event bus as EventPresence. Join, Leave
// and Update only send through the transport: they publish no event, and
// the engine keeps no local presence map.
type Presence struct {
	e  *Engine
	pt transport.PresenceTransport
}

// Presence returns a Presence handle, or nil if the configured transport
// doesn't implement the presence extension.
func (e *Engine) Presence() *Presence {
	pt, ok := e.deps.Transport.(transport.PresenceTransport)
	if !ok {
		return nil
	}
	p := &Presence{e: e, pt: pt}
	pt.OnPresenceEvent(func(ev transport.PresenceEvent) {
		e.bus.Publish(EventPresence, ev)
	})
	return p
}

func (p *Presence) Join(ctx context.Context, scopeKey string, entry transport.PresenceEntry) error {
	if err := p.pt.SendPresenceJoin(ctx, scopeKey, entry); err != nil {
		return fmt.Errorf("send presence join: %w", err)
	}
	return nil
}

func (p *Presence) Leave(ctx context.Context, scopeKey, clientID string) error {
	if err := p.pt.SendPresenceLeave(ctx, scopeKey, clientID); err != nil {
		return fmt.Errorf("send presence leave: %w", err)
	}
	return nil
}

func (p *Presence) Update(ctx context.Context, scopeKey string, entry transport.PresenceEntry) error {
	if err := p.pt.SendPresenceUpdate(ctx, scopeKey, entry); err != nil {
		return fmt.Errorf("send presence update: %w", err)
	}
	return nil
}
