/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 ConnectCRM, Inc.
 */

// agentdesk is the console binary: it wires the token manager, control-plane
// client, event channel, and session controller together from a YAML config,
// then either listens for incoming calls or places an outbound one.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/connectcrm/agentdesk/auth"
	"github.com/connectcrm/agentdesk/config"
	"github.com/connectcrm/agentdesk/consolesdk"
	"github.com/connectcrm/agentdesk/directory"
	"github.com/connectcrm/agentdesk/router"
	"github.com/connectcrm/agentdesk/session"
	"github.com/connectcrm/agentdesk/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "agentdesk",
		Short:         "Call-center agent console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "agentdesk.yaml", "path to the console config file")

	root.AddCommand(&cobra.Command{
		Use:   "listen",
		Short: "Connect to the signaling backend and wait for incoming calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, "")
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "dial <number>",
		Short: "Place an outbound call and stay on it until it ends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, args[0])
		},
	})

	return root
}

// console bundles the wired components for one process lifetime.
type console struct {
	tokens     *auth.Manager
	conn       *transport.Connection
	controller *session.Controller
}

func buildConsole(cfg *config.Config) (*console, error) {
	logger := log.Default()

	tokens, err := auth.New(&auth.Config{
		AcquireURL: cfg.Auth.AcquireURL,
		AgentID:    cfg.Agent.ID,
		Secret:     cfg.Auth.Secret,
		StorePath:  cfg.Auth.StorePath,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	core, err := consolesdk.NewClient(tokens, &consolesdk.Config{
		BaseURL: cfg.ControlPlane.BaseURL,
		Timeout: cfg.ControlTimeout(),
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	rt := router.New()
	conn := transport.New(&transport.Config{
		URL:                  cfg.Signaling.URL,
		AgentID:              cfg.Agent.ID,
		AgentNumber:          cfg.Agent.Number,
		HandshakeTimeout:     cfg.HandshakeTimeout(),
		ReconnectDelay:       cfg.ReconnectDelay(),
		MaxReconnectAttempts: cfg.Signaling.MaxReconnectAttempts,
		Logger:               logger,
	}, tokens, rt)

	controller := session.New(core, tokens, conn, &session.Config{
		AgentID:     cfg.Agent.ID,
		AgentNumber: cfg.Agent.Number,
		CallerID:    cfg.Agent.CallerID,
		GraceDelay:  cfg.GraceDelay(),
		Contacts:    directory.New(core),
		OnTick: func(elapsed time.Duration) {
			fmt.Printf("\rconnected %s ", elapsed)
		},
		OnEnded: func(final session.Session) {
			fmt.Printf("\ncall %s ended (%s)\n", final.CallID, final.Status)
		},
		Logger: logger,
	})
	controller.Start(rt)

	return &console{tokens: tokens, conn: conn, controller: controller}, nil
}

func run(configPath, dialNumber string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	c, err := buildConsole(cfg)
	if err != nil {
		return err
	}
	defer c.controller.Close()
	defer c.conn.Disconnect()

	c.conn.Connect()
	if state := c.conn.State(); state != transport.StateConnected {
		return fmt.Errorf("signaling connection failed (%s): %s", state, c.conn.LastError())
	}
	log.Printf("connected to signaling backend as agent %s", cfg.Agent.ID)

	if dialNumber != "" {
		if err := c.controller.Initiate(context.Background(), dialNumber, session.ContactInfo{}); err != nil {
			return fmt.Errorf("dial %s: %w", dialNumber, err)
		}
		log.Printf("dialing %s (call %s)", dialNumber, c.controller.Current().CallID)
	} else {
		log.Printf("waiting for incoming calls")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	// Best effort teardown of a live call before exit.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.controller.EndCall(ctx)

	return nil
}
