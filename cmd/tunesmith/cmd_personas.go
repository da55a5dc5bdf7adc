package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ent0n29/tunesmith/internal/persona"
)

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "Manage saved personas",
}

var personasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved personas, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openPersonaStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("no personas saved")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSTYLE\tCREATED")
		for _, p := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Params.Style, p.CreatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var personasDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved persona",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openPersonaStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, persona.ErrNotFound) {
				return fmt.Errorf("persona %q not found", args[0])
			}
			return err
		}
		fmt.Printf("deleted persona %q\n", args[0])
		return nil
	},
}

func init() {
	personasCmd.AddCommand(personasListCmd, personasDeleteCmd)
}

func openPersonaStore(cmd *cobra.Command) (persona.Store, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.PersonaStore == "memory" {
		return nil, errors.New("the memory persona store only exists inside a running service")
	}
	store, _, err := persona.NewStore(cmd.Context(), cfg.PersonaStore, cfg.DatabaseURL, cfg.PersonaSQLitePath)
	return store, err
}
