package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"levra.org/internal/view"
)

func watchCmd() *cobra.Command {
	var incremental, clearScreen bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live dashboard for the authenticated user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := newClient()
			me, err := c.Me(ctx)
			if err != nil {
				return err
			}
			opts := []view.Option{}
			if incremental {
				opts = append(opts, view.WithMode(view.Incremental))
			}
			var v *view.View
			if me.Admin {
				v = view.NewAdmin(c, c, opts...)
			} else {
				v = view.NewClient(me.UserID, c, c, opts...)
			}

			done := make(chan error, 1)
			go func() { done <- v.Run(ctx) }()

			for {
				select {
				case s, ok := <-v.Updates():
					if !ok {
						return <-done
					}
					if viper.GetBool("json") {
						if err := printJSON(s); err != nil {
							return err
						}
						continue
					}
					if clearScreen {
						fmt.Print("\033[H\033[2J")
					}
					fmt.Printf("%s view, revision %d, %s\n", v.Role(), s.Revision, s.UpdatedAt.Format("15:04:05"))
					renderSnapshot(os.Stdout, s)
				case err := <-done:
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
			}
		},
	}
	cmd.Flags().BoolVar(&incremental, "incremental", false, "patch rows from change events instead of re-reading")
	cmd.Flags().BoolVar(&clearScreen, "clear", true, "clear the terminal before each render")
	return cmd
}
