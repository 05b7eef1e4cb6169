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

var (
	recvFrom string
	recvDir  string
)

var recvCmd = &cobra.Command{
	Use:   "recv",
	Short: "Wait for an incoming file from a trusted contact",
	RunE:  runRecv,
}

func init() {
	rootCmd.AddCommand(recvCmd)
	recvCmd.Flags().StringVar(&recvFrom, "from", "", "Name of the expected sender contact (required)")
	recvCmd.Flags().StringVar(&recvDir, "dir", "", "Download directory (defaults to configured download_dir)")
	_ = recvCmd.MarkFlagRequired("from")
}

func runRecv(cmd *cobra.Command, args []string) error {
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

	receiver := transfer.NewReceiver(id, book, client)

	downloadDir := recvDir
	if downloadDir == "" {
		downloadDir = cfg.Transfer.DownloadDir
	}

	fmt.Println("Waiting for sender to connect...")

	var lastPrinted uint64
	progress := func(transferred, total uint64) {
		if total == 0 || transferred-lastPrinted < uint64(cfg.Transfer.ChunkSize) && transferred != total {
			return
		}
		lastPrinted = transferred
		fmt.Printf("\r%d/%d bytes received", transferred, total)
	}

	result, err := receiver.Receive(context.Background(), transfer.ReceiveConfig{
		ExpectedSenderName: recvFrom,
		DownloadDir:        downloadDir,
		OnProgress:         progress,
	})
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Received %q (%d bytes) -> %s\n", result.Filename, result.BytesWritten, result.OutputPath)
	return nil
}
