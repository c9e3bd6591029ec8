package adapters

import (
	"strings"

	"github.com/smallbiznis/stayledger/internal/payment/domain"
)

// Registry resolves network clients and webhook adapters by network name.
type Registry struct {
	networks map[string]domain.Network
	webhooks map[string]domain.WebhookAdapter
}

func NewRegistry(networks []domain.Network, webhooks []domain.WebhookAdapter) *Registry {
	registry := &Registry{
		networks: map[string]domain.Network{},
		webhooks: map[string]domain.WebhookAdapter{},
	}
	for _, network := range networks {
		if network == nil {
			continue
		}
		registry.networks[normalize(network.Name())] = network
	}
	for _, webhook := range webhooks {
		if webhook == nil {
			continue
		}
		registry.webhooks[normalize(webhook.Network())] = webhook
	}
	return registry
}

func (r *Registry) Network(name string) (domain.Network, error) {
	if r == nil {
		return nil, domain.ErrUnknownNetwork
	}
	network, ok := r.networks[normalize(name)]
	if !ok {
		return nil, domain.ErrUnknownNetwork
	}
	return network, nil
}

func (r *Registry) Webhook(name string) (domain.WebhookAdapter, error) {
	if r == nil {
		return nil, domain.ErrUnknownNetwork
	}
	webhook, ok := r.webhooks[normalize(name)]
	if !ok {
		return nil, domain.ErrUnknownNetwork
	}
	return webhook, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
