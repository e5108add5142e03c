package actuator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"workspace-mood-monitor/internal/onem2m"
)

// Subscription names on the lamp sub-resources.
const (
	SubscriptionSwitch = "subLampSwitch"
	SubscriptionColor  = "subLampColor"
)

// Creator creates CSE resources.
type Creator interface {
	Create(ctx context.Context, path string, ty int, body any, out any) (bool, error)
}

// Bootstrap subscribes callbackURL to the lamp switch and color resources under lampPath.
// Existing subscriptions are left in place.
func Bootstrap(ctx context.Context, client Creator, lampPath, callbackURL string, logger *log.Logger) error {
	if client == nil {
		return errors.New("actuator: nil cse client")
	}
	if lampPath == "" || callbackURL == "" {
		return errors.New("actuator: lamp path and callback url are required")
	}
	if logger == nil {
		logger = log.Default()
	}
	lampPath = strings.TrimRight(lampPath, "/")
	callbackURL = strings.TrimRight(callbackURL, "/")
	if !strings.HasSuffix(callbackURL, "/notify") {
		callbackURL += "/notify"
	}

	targets := []struct{ resource, name string }{
		{"switch", SubscriptionSwitch},
		{"color", SubscriptionColor},
	}
	for _, target := range targets {
		body := map[string]any{
			"m2m:sub": map[string]any{
				"rn":  target.name,
				"nu":  []string{callbackURL},
				"nct": 1,
				"enc": map[string]any{"net": []int{1, 2, 3, 4}},
			},
		}
		path := lampPath + "/" + target.resource
		created, err := client.Create(ctx, path, onem2m.TypeSubscription, body, nil)
		if err != nil {
			return fmt.Errorf("actuator: subscribe %s: %w", path, err)
		}
		if created {
			logger.Printf("actuator: created subscription %s on %s", target.name, path)
		} else {
			logger.Printf("actuator: subscription %s on %s already exists", target.name, path)
		}
	}
	return nil
}
