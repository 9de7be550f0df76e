package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mavcam-bridge/internal/bridge"
)

var scanTimeout time.Duration

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List cameras visible on the configured transport",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closeLog, err := setup()
		if err != nil {
			return err
		}
		defer closeLog()

		transport, err := newTransport(cfg, log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, scanTimeout)
		defer cancel()

		var (
			mu    sync.Mutex
			found []bridge.Identity
		)
		err = transport.Scan(ctx, func(id bridge.Identity) {
			mu.Lock()
			found = append(found, id)
			mu.Unlock()
		})
		if err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		if len(found) == 0 {
			fmt.Println("No cameras found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tADDRESS\tSERVICE\tMATCH")
		for _, id := range found {
			match := id.HasService || (cfg.Camera.NamePrefix != "" && strings.HasPrefix(id.Name, cfg.Camera.NamePrefix))
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\n", id.Name, id.Address, id.HasService, match)
		}
		return w.Flush()
	},
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 10*time.Second, "how long to scan")
	rootCmd.AddCommand(scanCmd)
}
