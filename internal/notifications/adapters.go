package notifications

import (
	"sync"

	"github.com/bissquit/market-sentinel/internal/domain"
)

// AddressKeys maps each channel to the metadata key that carries its address
// when the payload was built for a different channel.
var AddressKeys = domain.ChannelTable[string]{
	"chat_id",
	"email",
	"webhook_url",
	"device_token",
	"phone",
}

// AddressAdapter turns a generic payload into a notification for one channel.
type AddressAdapter func(payload NotificationPayload) (Notification, error)

type adapterRegistry struct {
	mu       sync.RWMutex
	adapters domain.ChannelTable[AddressAdapter]
}

func newAdapterRegistry() *adapterRegistry {
	r := &adapterRegistry{}
	for _, ch := range domain.ChannelTypes {
		r.adapters.Set(ch, metadataAdapter(ch))
	}
	return r
}

func (r *adapterRegistry) set(ch domain.ChannelType, a AddressAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters.Set(ch, a)
}

func (r *adapterRegistry) adapt(ch domain.ChannelType, payload NotificationPayload) (Notification, error) {
	r.mu.RLock()
	a := r.adapters.Get(ch)
	r.mu.RUnlock()
	if a == nil {
		a = metadataAdapter(ch)
	}
	return a(payload)
}

// metadataAdapter uses payload.Address for the native channel and the
// AddressKeys metadata entry for any other channel.
func metadataAdapter(ch domain.ChannelType) AddressAdapter {
	return func(payload NotificationPayload) (Notification, error) {
		to := payload.Metadata[AddressKeys.Get(ch)]
		if payload.Channel == ch && payload.Address != "" {
			to = payload.Address
		}
		if to == "" {
			return Notification{}, NewValidationError("address", "no %s address for channel %s", AddressKeys.Get(ch), ch)
		}
		return Notification{
			Channel:  ch,
			To:       to,
			Subject:  payload.Title,
			Body:     payload.Body,
			Format:   payload.Format,
			Metadata: payload.Metadata,
		}, nil
	}
}
