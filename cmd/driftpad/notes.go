package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var createContent string

var createCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a note in the local store",
	Long: `Create a note with a fresh id in the per-user local store.

The note exists only locally until the next sync pass pushes it to the
remote store. Works fully offline.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		userID := requireUser()

		store := openLocal(nil)
		defer store.Close()

		note, err := store.Create(context.Background(), userID, args[0], createContent)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating note: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Created %s (rev %s)\n", note.ID, note.Rev)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes in the local store",
	Long: `List the user's notes from the local store, newest first.
Soft-deleted notes are hidden.`,
	Run: func(cmd *cobra.Command, args []string) {
		userID := requireUser()

		store := openLocal(nil)
		defer store.Close()

		notes, err := store.GetAll(context.Background(), userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing notes: %v\n", err)
			os.Exit(1)
		}

		sort.Slice(notes, func(i, j int) bool {
			return notes[i].UpdatedAt > notes[j].UpdatedAt
		})

		shown := 0
		for _, note := range notes {
			if note.Deleted {
				continue
			}
			updated := time.UnixMilli(note.UpdatedAt).Format("2006-01-02 15:04:05")
			title := note.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s  %s  %s\n", note.ID, updated, title)
			shown++
		}

		if shown == 0 {
			fmt.Println("No notes")
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Soft-delete a note",
	Long: `Mark a note deleted in the local store. The tombstone propagates
to the remote store on the next sync pass; other devices stop pulling the
note once it is gone from the remote's active set.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		userID := requireUser()

		store := openLocal(nil)
		defer store.Close()

		ctx := context.Background()
		note, err := store.Get(ctx, userID, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if _, err := store.Delete(ctx, userID, note.ID, note.Rev); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting note: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Deleted %s\n", note.ID)
	},
}

func init() {
	createCmd.Flags().StringVarP(&createContent, "content", "c", "", "note content")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
}
