package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/argus-dev/argus/internal/crypto"
)

func newRotateKeyCmd(configFile *string) *cobra.Command {
	var initFlag bool

	cmd := &cobra.Command{
		Use:   "rotate-key",
		Short: "Initialize or rotate the agent's cryptographic signing identity",
		Long: `Without --init, rotates the current signing key to "previous" and
generates a fresh current key; stamps and audit entries signed with the
previous key keep verifying until the next rotation. With --init, creates
a brand new instance identity, overwriting any existing one: run this
exactly once per agent instance.`,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return rotateKey(cobraCmd.Context(), *configFile, initFlag)
		},
	}
	cmd.Flags().BoolVar(&initFlag, "init", false, "Initialize a brand new signing identity (overwrites any existing one)")
	return cmd
}

func rotateKey(ctx context.Context, configFile string, initFlag bool) error {
	st, err := openStore(configFile)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	if initFlag {
		km, err := crypto.Bootstrap(ctx, st)
		if err != nil {
			return fmt.Errorf("initializing identity: %w", err)
		}
		fmt.Printf("initialized identity %s\n", km.InstanceID())
		return nil
	}

	km, err := openKeys(ctx, st)
	if err != nil {
		if errors.Is(err, crypto.ErrNoIdentity) {
			return fmt.Errorf("%w (run with --init first)", err)
		}
		return err
	}

	age := time.Since(km.Meta().CurrentCreatedAt)
	if err := km.Rotate(ctx); err != nil {
		return fmt.Errorf("rotating key: %w", err)
	}
	fmt.Printf("rotated signing key for instance %s (previous key was %s old)\n", km.InstanceID(), age.Round(time.Second))
	return nil
}
