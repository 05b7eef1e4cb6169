package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rshare/rshare/contacts"
	"github.com/rshare/rshare/keystore"
	"github.com/rshare/rshare/relay"
	"github.com/rshare/rshare/transfer"
)

var sendTo string

var sendCmd = &cobra.Command{
	Use:   "send <file>",
	Short: "Send a file to a trusted contact",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendTo, "to", "", "Name of the recipient contact (required)")
	_ = sendCmd.MarkFlagRequired("to")
}

func runSend(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	id, err := keystore.LoadOrGenerate(cfg.KeyStore.Directory)
	if err != nil {
		return err
	}

	book, err := contacts.Load(cfg.Contacts.Path)
	if err != nil {
		return err
	}

	client := relay.New(relay.Config{
		HTTPURL:    cfg.Relay.HTTPURL,
		SocketHost: cfg.Relay.SocketHost,
		SocketPort: cfg.Relay.SocketPort,
		BufferSize: cfg.Relay.BufferSize,
	})

	sender := transfer.NewSender(id, book, client)

	var lastPrinted uint64
	progress := func(transferred, total uint64) {
		if total == 0 || transferred-lastPrinted < uint64(cfg.Transfer.ChunkSize) && transferred != total {
			return
		}
		lastPrinted = transferred
		fmt.Printf("\r%d/%d bytes sent", transferred, total)
	}

	result, err := sender.Send(context.Background(), transfer.SendConfig{
		FilePath:      filePath,
		RecipientName: sendTo,
		ChunkSize:     cfg.Transfer.ChunkSize,
		OnProgress:    progress,
	})
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Sent %d bytes (session %s)\n", result.BytesSent, result.SessionID)
	if !result.ReceiverAcked {
		fmt.Println("Warning: receiver did not acknowledge completion")
	}
	return nil
}
