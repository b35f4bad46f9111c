package context

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	v1 "github.com/headlamp-k8s/headlamp-sub003/configuration/v1"
)

func TestFromContext(t *testing.T) {
	r := require.New(t)
	r.Nil(FromContext(t.Context()))

	cfg := &v1.Config{HostVersion: "1.0.0"}
	registry := prometheus.NewRegistry()
	ctx := WithConfiguration(t.Context(), cfg)
	ctx2 := WithMetrics(ctx, registry)

	// the same Context is shared once it is attached
	r.Same(FromContext(ctx), FromContext(ctx2))
	r.Same(cfg, FromContext(ctx2).Configuration())
	r.Same(registry, FromContext(ctx).Metrics())
	r.Nil(FromContext(ctx).PluginManager())
	r.Nil(FromContext(ctx).Orchestrator())
}

func TestNilContextAccessors(t *testing.T) {
	var pctx *Context
	r := require.New(t)
	r.Nil(pctx.Configuration())
	r.Nil(pctx.PluginManager())
	r.Nil(pctx.Orchestrator())
	r.Nil(pctx.Metrics())
}

func TestRegister(t *testing.T) {
	r := require.New(t)
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	Register(cmd)
	r.NotNil(FromContext(cmd.Context()))
}
