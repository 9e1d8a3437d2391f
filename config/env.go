package config

import (
	"log"

	"github.com/caarlos0/env/v11"

	"github.com/Meander-Cloud/go-netevent/neterror"
)

const EnvPrefix string = "NETEVENT_"

// FromEnv loads a Config from environment variables named prefix + field tag, e.g. NETEVENT_LISTEN_ADDRESS.
func FromEnv(prefix string) (*Config, error) {
	c := &Config{}
	if err := env.ParseWithOptions(c, env.Options{Prefix: prefix}); err != nil {
		werr := neterror.Wrap(neterror.CodeInvalidConfig, err, "failed to parse environment with prefix=%s", prefix)
		log.Printf("%s", werr.Error())
		return nil, werr
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
