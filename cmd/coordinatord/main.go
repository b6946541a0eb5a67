// Command coordinatord loads an application descriptor, wires its modules
// together, and runs the per-block coordinator loop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"mini-rpc/appdesc"
	"mini-rpc/codec"
	"mini-rpc/coordinator"
	"mini-rpc/executor"
	"mini-rpc/informer"
	"mini-rpc/linker"
	"mini-rpc/metrics"
	"mini-rpc/modrt"
	"mini-rpc/port"
	"mini-rpc/sandbox"
	"mini-rpc/substorage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "coordinatord",
		Short: "Run the module coordinator for one application descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	root.PersistentFlags().String("descriptor", "app.toml", "path to the application descriptor TOML file")
	root.PersistentFlags().StringSlice("etcd-endpoints", nil, "etcd endpoints for liveness event publication (omit to disable)")
	root.PersistentFlags().String("metrics-addr", ":9090", "address to serve Prometheus metrics on")
	root.PersistentFlags().Int("blocks", 0, "number of blocks to run before exiting (0 runs until interrupted)")
	root.PersistentFlags().Duration("block-interval", time.Second, "delay between consecutive blocks")
	v.BindPFlags(root.PersistentFlags())

	v.SetEnvPrefix("coordinatord")
	v.AutomaticEnv()

	return root
}

func run(v *viper.Viper) error {
	descBytes, err := os.ReadFile(v.GetString("descriptor"))
	if err != nil {
		return fmt.Errorf("coordinatord: reading descriptor: %w", err)
	}

	desc, err := appdesc.Parse(descBytes)
	if err != nil {
		return fmt.Errorf("coordinatord: parsing descriptor: %w", err)
	}

	inf, err := informer.New(v.GetStringSlice("etcd-endpoints"))
	if err != nil {
		return fmt.Errorf("coordinatord: connecting informer: %w", err)
	}
	defer inf.Close()

	m := metrics.New()
	c := codec.GetCodec(codec.CodecTypeCBOR)
	ring := substorage.NewShardRingWithMetrics(4, m)

	modules, host, err := startSandboxes(desc, c, m)
	if err != nil {
		return err
	}
	defer closeSandboxes(modules, host)

	if err := linkModulesToHost(host, modules, c); err != nil {
		return err
	}

	coord := coordinator.New(coordinator.Config{
		Owners:     buildTxOwners(desc, modules),
		Storage:    ring,
		TxTimeout:  5 * time.Second,
		MaxRetries: 2,
		RetryDelay: 50 * time.Millisecond,
		Informer:   inf,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := v.GetString("metrics-addr")
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			fmt.Fprintf(os.Stderr, "coordinatord: metrics server: %v\n", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("coordinatord: loaded %d module(s) from %s, serving metrics on %s\n", len(desc.Modules), v.GetString("descriptor"), addr)

	return driveBlockLoop(ctx, coord, v.GetInt("blocks"), v.GetDuration("block-interval"))
}

// moduleHandle pairs one descriptor module with its running sandbox and
// module runtime.
type moduleHandle struct {
	name string
	sb   *sandbox.Sandbox
	rt   *modrt.Runtime
}

// startSandboxes starts one in-process sandbox per descriptor module, plus
// one extra sandbox acting as the coordinator's own link endpoint (the
// Linker always wires two module runtimes together; the coordinator
// itself needs one to be the other side of that link).
func startSandboxes(desc *appdesc.AppDescriptor, c codec.Codec, m *metrics.Metrics) (modules []*moduleHandle, host *moduleHandle, err error) {
	names := make([]string, 0, len(desc.Modules))
	for name := range desc.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		h, err := startModuleSandbox(name, c, m)
		if err != nil {
			closeSandboxes(modules, nil)
			return nil, nil, err
		}
		modules = append(modules, h)
	}

	host, err = startModuleSandbox("coordinatord-host", c, nil)
	if err != nil {
		closeSandboxes(modules, nil)
		return nil, nil, err
	}
	return modules, host, nil
}

func startModuleSandbox(name string, c codec.Codec, m *metrics.Metrics) (*moduleHandle, error) {
	rtCh := make(chan *modrt.Runtime, 1)
	executor.RegisterFunction(name, func(args []string) {
		tr, ok := sandbox.TakeInstance(args[0])
		if !ok {
			panic("coordinatord: no sandbox instance registered for " + name)
		}
		rt := modrt.NewRuntime(tr, modrt.Config{
			Codec:      c,
			DebugRate:  rate.Inf,
			DebugBurst: 1,
			Name:       name,
			Metrics:    m,
		})
		rtCh <- rt
		rt.Announce()
		rt.Run()
	})

	sb, err := sandbox.NewThreadSandbox(name, nil)
	if err != nil {
		return nil, fmt.Errorf("coordinatord: starting sandbox for module %q: %w", name, err)
	}

	select {
	case rt := <-rtCh:
		return &moduleHandle{name: name, sb: sb, rt: rt}, nil
	case <-time.After(5 * time.Second):
		sb.Close()
		return nil, fmt.Errorf("coordinatord: module %q never announced readiness", name)
	}
}

func closeSandboxes(modules []*moduleHandle, host *moduleHandle) {
	for _, h := range modules {
		h.sb.Close()
	}
	if host != nil {
		host.sb.Close()
	}
}

// linkModulesToHost links every module sandbox to the coordinator's host
// sandbox, one port per module, proving out the Linker's handle-exchange
// round for every configured module.
func linkModulesToHost(host *moduleHandle, modules []*moduleHandle, c codec.Codec) error {
	l := linker.New(c, port.DefaultConfig())
	hostEndpoint := linker.Endpoint{Sandbox: host.sb, Runtime: host.rt, LinkTypes: []string{"inproc-v1"}}
	for i, mod := range modules {
		portID := uint64(i + 1)
		modEndpoint := linker.Endpoint{Sandbox: mod.sb, Runtime: mod.rt, LinkTypes: []string{"inproc-v1"}}
		if err := l.Link(hostEndpoint, modEndpoint, portID); err != nil {
			return fmt.Errorf("coordinatord: linking module %q: %w", mod.name, err)
		}
	}
	return nil
}

// buildTxOwners maps each declared transaction type to a ledger TxOwner
// for its owning module, per the descriptor's [transactions] table.
func buildTxOwners(desc *appdesc.AppDescriptor, modules []*moduleHandle) map[string]coordinator.TxOwner {
	ledgers := make(map[string]*ledgerTxOwner, len(modules))
	for _, mod := range modules {
		ledgers[mod.name] = newLedgerTxOwner(mod.name)
	}

	owners := make(map[string]coordinator.TxOwner, len(desc.Transactions))
	for txType, moduleName := range desc.Transactions {
		owners[txType] = ledgers[moduleName]
	}
	return owners
}

// driveBlockLoop runs RunBlock against a synthetic, monotonically
// increasing header source until ctx is cancelled or limit blocks have run
// (0 means run until cancelled).
func driveBlockLoop(ctx context.Context, coord *coordinator.Coordinator, limit int, interval time.Duration) error {
	const sessionID = "coordinatord-session"
	nextHeader := testHeaderSource()

	for n := 0; limit <= 0 || n < limit; n++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		header := nextHeader()
		result, err := coord.RunBlock(ctx, sessionID, header, nil)
		if err != nil {
			return fmt.Errorf("coordinatord: running block %d: %w", header.Number, err)
		}
		coord.Commit(sessionID)
		fmt.Printf("coordinatord: closed block %d with %d event(s)\n", header.Number, len(result.Events))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
	return nil
}

// testHeaderSource stands in for whatever real header feed (chain sync,
// consensus) a production deployment would drive RunBlock from.
func testHeaderSource() func() coordinator.Header {
	var n uint64
	return func() coordinator.Header {
		n++
		return coordinator.Header{
			Number:    n,
			Author:    "coordinatord-test-source",
			Timestamp: time.Now().Unix(),
		}
	}
}
