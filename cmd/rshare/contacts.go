package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rshare/rshare/contacts"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage trusted contacts",
}

var contactAddNote string

var contactsAddCmd = &cobra.Command{
	Use:   "add <name> <fingerprint>",
	Short: "Add a trusted contact",
	Args:  cobra.ExactArgs(2),
	RunE:  runContactsAdd,
}

var contactsRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a trusted contact",
	Args:  cobra.ExactArgs(1),
	RunE:  runContactsRemove,
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trusted contacts",
	RunE:  runContactsList,
}

func init() {
	rootCmd.AddCommand(contactsCmd)
	contactsCmd.AddCommand(contactsAddCmd)
	contactsCmd.AddCommand(contactsRemoveCmd)
	contactsCmd.AddCommand(contactsListCmd)

	contactsAddCmd.Flags().StringVar(&contactAddNote, "note", "", "Optional free-form note")
}

func runContactsAdd(cmd *cobra.Command, args []string) error {
	book, err := contacts.Load(cfg.Contacts.Path)
	if err != nil {
		return err
	}
	if err := book.Add(args[0], args[1], contactAddNote); err != nil {
		return err
	}
	if err := book.Save(); err != nil {
		return err
	}
	fmt.Printf("Added contact %q\n", args[0])
	return nil
}

func runContactsRemove(cmd *cobra.Command, args []string) error {
	book, err := contacts.Load(cfg.Contacts.Path)
	if err != nil {
		return err
	}
	if err := book.Remove(args[0]); err != nil {
		return err
	}
	if err := book.Save(); err != nil {
		return err
	}
	fmt.Printf("Removed contact %q\n", args[0])
	return nil
}

func runContactsList(cmd *cobra.Command, args []string) error {
	book, err := contacts.Load(cfg.Contacts.Path)
	if err != nil {
		return err
	}
	list := book.List()
	if len(list) == 0 {
		fmt.Println("No contacts yet.")
		return nil
	}
	for _, c := range list {
		fmt.Printf("%-20s %s  %s\n", c.Name, c.Fingerprint, c.Note)
	}
	return nil
}
