package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mavcam-bridge/internal/infra/config"
	"mavcam-bridge/internal/store"
)

var pairedCmd = &cobra.Command{
	Use:   "paired",
	Short: "List remembered cameras",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		cameras, err := st.List(context.Background())
		if err != nil {
			return err
		}
		if len(cameras) == 0 {
			fmt.Println("No paired cameras.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tADDRESS\tMODEL\tPAIRED\tLAST SEEN")
		for _, c := range cameras {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				c.Identity.Name, c.Identity.Address, c.Model,
				c.PairedAt.Local().Format(time.DateTime),
				c.LastSeen.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <address>",
	Short: "Remove a remembered camera",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ok, err := st.Forget(context.Background(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no paired camera with address %s", args[0])
		}
		fmt.Printf("Forgot %s\n", args[0])
		return nil
	},
}

func openStore() (*store.SQLitePairingStore, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Path == "" {
		return nil, errors.New("store.path is empty; pairing memory is disabled")
	}
	return store.NewSQLitePairingStore(cfg.Store.Path)
}

func init() {
	pairedCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(pairedCmd)
}
