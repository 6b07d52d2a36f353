package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/threadbot/pkg/threadbot/copilot"
	"github.com/jholhewres/threadbot/pkg/threadbot/scheduler"
)

// newRemindersCmd creates the `threadbot reminders` command.
func newRemindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Inspect stored reminders",
		Long: `Inspect the reminders saved by the assistant's schedule tool.
Only available with scheduler.persist enabled; in-memory reminders live
inside the running bot.

Examples:
  threadbot reminders list
  threadbot reminders remove <id>`,
	}

	cmd.AddCommand(
		newRemindersListCmd(),
		newRemindersRemoveCmd(),
	)
	return cmd
}

// openReminderStore opens the SQLite reminder store named by the config.
func openReminderStore(cmd *cobra.Command) (*scheduler.SQLiteStorage, *copilot.Config, error) {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Scheduler.Persist {
		return nil, nil, fmt.Errorf("reminders are kept in memory; set scheduler.persist: true to store them")
	}
	store, err := scheduler.OpenSQLiteStorage(cfg.Scheduler.Storage)
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func newRemindersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, cfg, err := openReminderStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			reminders, err := store.LoadAll()
			if err != nil {
				return err
			}
			if len(reminders) == 0 {
				fmt.Println("No pending reminders.")
				return nil
			}
			loc, err := cfg.Scheduler.Location()
			if err != nil {
				loc = time.Local
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFIRES AT\tCHANNEL\tRECIPIENT\tNAME")
			for _, r := range reminders {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.FireAt.In(loc).Format("2006-01-02 15:04"), r.Channel, r.Recipient, r.Name)
			}
			return w.Flush()
		},
	}
}

func newRemindersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a pending reminder",
		Long: `Remove a reminder from the store. A running bot keeps its in-memory
copy until restarted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openReminderStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("Reminder %q removed.\n", args[0])
			return nil
		},
	}
}
