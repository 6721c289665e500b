package driver

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultPrefetch     = 2
	DefaultTTL          = 43200 * time.Second
	DefaultPollInterval = 10 * time.Millisecond
	DefaultPeekLimit    = 20
)

// Options configures a Driver. Zero values fall back to the defaults above.
type Options struct {
	// Prefetch is the number of messages claimed per request.
	Prefetch int `validate:"min=1,max=20"`
	// TTL applies to pushed messages and to claims.
	TTL time.Duration `validate:"min=1m,max=336h"`
	// PollInterval is the pause between empty claim requests inside pop.
	PollInterval time.Duration `validate:"min=1ms,max=1m"`
	// Queues are registered as handles up front.
	Queues []string `validate:"dive,required"`
}

var validate = validator.New()

func (o *Options) applyDefaults() {
	if o.Prefetch == 0 {
		o.Prefetch = DefaultPrefetch
	}
	if o.TTL == 0 {
		o.TTL = DefaultTTL
	}
	if o.PollInterval == 0 {
		o.PollInterval = DefaultPollInterval
	}
}

func (o *Options) validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid driver options: %w", err)
	}
	return nil
}
