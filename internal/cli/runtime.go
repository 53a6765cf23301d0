package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lexsia228/M55-soul/pkg/chatlimit"
	"github.com/lexsia228/M55-soul/pkg/halt"
	"github.com/lexsia228/M55-soul/pkg/identity"
	"github.com/lexsia228/M55-soul/pkg/logvault"
	"github.com/lexsia228/M55-soul/pkg/policy"
	"github.com/lexsia228/M55-soul/pkg/purchase"
	"github.com/lexsia228/M55-soul/pkg/trustedstore"
)

// planSeedKey is the unsigned seed holding the last synced plan tier,
// alongside the identity seed.
const planSeedKey = "plan"

// Runtime is the per-invocation composition: one controller, one
// backend, one instance of each component.
type Runtime struct {
	Logger    *slog.Logger
	Ctrl      *halt.Controller
	Backend   *trustedstore.SQLiteBackend
	Store     *trustedstore.Store
	Policies  *policy.Loader
	Purchases *purchase.Cache
	Vault     *logvault.Vault
	Limiter   *chatlimit.Limiter
}

func openRuntime(opts *RootOptions) (*Runtime, error) {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	ctrl := halt.NewController(logger)

	backend, err := trustedstore.OpenSQLite(opts.DB)
	if err != nil {
		return nil, halt.New(halt.CodeStorageReadFailed, "unable to open local vault", err.Error())
	}

	store := trustedstore.New(backend, func() int64 { return time.Now().UnixMilli() })
	policies := policy.NewLoader(opts.PolicyURL, &http.Client{Timeout: 10 * time.Second})

	return &Runtime{
		Logger:    logger,
		Ctrl:      ctrl,
		Backend:   backend,
		Store:     store,
		Policies:  policies,
		Purchases: purchase.New(store),
		Vault:     logvault.New(backend, policies),
		Limiter:   chatlimit.New(store, policies, nil),
	}, nil
}

func (rt *Runtime) Close() {
	_ = rt.Backend.Close()
}

// Identity resolves the acting identity: the --hash flag wins, then the
// seeded value. No identity is ever generated.
func (rt *Runtime) Identity(ctx context.Context, opts *RootOptions) (identity.Hash, error) {
	return identity.Resolve(ctx, opts.Hash, rt.Backend)
}

// PlanTier resolves the acting plan: flag override, then the synced
// seed, else free.
func (rt *Runtime) PlanTier(ctx context.Context, opts *RootOptions) (identity.Plan, error) {
	if opts.Plan != "" {
		return identity.NormalizePlan(opts.Plan), nil
	}
	raw, ok, err := rt.Backend.Get(ctx, planSeedKey)
	if err != nil {
		return "", halt.New(halt.CodeStorageReadFailed, "unable to read local state", err.Error())
	}
	if !ok {
		return identity.PlanFree, nil
	}
	return identity.NormalizePlan(string(raw)), nil
}

// withRuntime runs one operation under the supervisor: panics trap to
// halt, and any error converges to halt state before the process
// reports it. The payload prints as indented JSON on stdout.
func withRuntime(opts *RootOptions, fn func(ctx context.Context, rt *Runtime) (any, error)) error {
	rt, err := openRuntime(opts)
	if err != nil {
		ctrl := halt.NewController(slog.New(slog.NewTextHandler(os.Stderr, nil)))
		return ctrl.Trip(err)
	}
	defer rt.Close()

	var payload any
	err = func() (err error) {
		defer rt.Ctrl.TrapPanic(&err)
		if err := rt.Ctrl.Guard(); err != nil {
			return err
		}
		payload, err = fn(context.Background(), rt)
		return err
	}()
	if err != nil {
		return rt.Ctrl.Trip(err)
	}

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return rt.Ctrl.Trip(err)
	}
	fmt.Println(string(out))
	return nil
}
