package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intellirouter/intellirouter/internal/connector"
	anthropicconn "github.com/intellirouter/intellirouter/internal/connector/anthropic"
	"github.com/intellirouter/intellirouter/internal/connector/mock"
	"github.com/intellirouter/intellirouter/internal/connector/ollama"
	openaiconn "github.com/intellirouter/intellirouter/internal/connector/openai"
	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/routing"
	"github.com/intellirouter/intellirouter/internal/types"
)

// BuildRegistry constructs a connector for every configured model and
// registers it, returning a Registry ready for routing.Engine to
// consult. This is the model-centric replacement for the teacher's
// per-provider RegisterProvider calls in cmd/llm-router/main.go.
func BuildRegistry(c *Config, logger *logrus.Logger) (*registry.Registry, error) {
	reg := registry.New(logger)

	for _, mc := range c.Models {
		conn, err := buildConnector(mc, connector.Budget{
			ContextWindow:   mc.ContextWindow,
			MaxTokensPerReq: mc.MaxTokensPerReq,
		})
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", mc.ID, err)
		}

		meta := types.ModelMetadata{
			ID:              mc.ID,
			Provider:        mc.Provider,
			Type:            mc.Type,
			Status:          types.StatusAvailable,
			ContextWindow:   mc.ContextWindow,
			Capabilities:    mc.Capabilities,
			CostPer1KInput:  mc.CostPer1KInput,
			CostPer1KOutput: mc.CostPer1KOutput,
			MaxTokensPerReq: mc.MaxTokensPerReq,
			MaxRPM:          mc.MaxRPM,
			Tags:            mc.Tags,
			ConnectorConfig: types.ConnectorConfig{
				Type:        mc.Connector.Type,
				EndpointURL: mc.Connector.BaseURL,
				APIKeyRef:   mc.Connector.APIKeyEnv,
				OrgID:       mc.Connector.OrgID,
				TimeoutMS:   int(mc.Connector.Timeout.Milliseconds()),
				Params:      mc.Connector.Params,
			},
		}

		if err := reg.Register(meta, conn); err != nil {
			return nil, fmt.Errorf("registering model %s: %w", mc.ID, err)
		}
	}

	return reg, nil
}

// buildConnector constructs the right connector.Connector implementation
// for one model's ConnectorSettings, threading its local pre-flight budget
// (spec §4.2, §8 boundary) into the connector under its own id.
func buildConnector(mc ModelConfig, budget connector.Budget) (connector.Connector, error) {
	timeout := mc.Connector.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	budgets := map[string]connector.Budget{mc.ID: budget}

	switch mc.Connector.Type {
	case "openai":
		return openaiconn.New(openaiconn.Config{
			APIKey:  os.Getenv(mc.Connector.APIKeyEnv),
			BaseURL: mc.Connector.BaseURL,
			OrgID:   mc.Connector.OrgID,
			Models:  []string{mc.ID},
			Timeout: timeout,
			Budgets: budgets,
		}), nil
	case "anthropic":
		return anthropicconn.New(anthropicconn.Config{
			APIKey:  os.Getenv(mc.Connector.APIKeyEnv),
			BaseURL: mc.Connector.BaseURL,
			Models:  []string{mc.ID},
			Timeout: timeout,
			Budgets: budgets,
		}), nil
	case "ollama":
		return ollama.New(ollama.Config{
			BaseURL: mc.Connector.BaseURL,
			Models:  []string{mc.ID},
			Timeout: timeout,
			Budgets: budgets,
		}), nil
	case "mock":
		return mock.New(mc.ID), nil
	default:
		return nil, fmt.Errorf("unknown connector type %q", mc.Connector.Type)
	}
}

// BuildEngine builds a Registry from configured models and a routing.Engine
// over it using this config's router settings, returning both since
// callers (the proxy layer, health probing) need direct registry access
// as well as the engine.
func BuildEngine(c *Config, logger *logrus.Logger) (*registry.Registry, *routing.Engine, error) {
	reg, err := BuildRegistry(c, logger)
	if err != nil {
		return nil, nil, err
	}
	engine := routing.New(reg, logger,
		routing.WithDefaultStrategy(c.Router.DefaultStrategy),
		routing.WithBaseDelay(c.Router.BaseRetryDelay),
		routing.WithMaxDelay(c.Router.MaxRetryDelay),
	)
	return reg, engine, nil
}
