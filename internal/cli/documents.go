package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gmsas95/paperflow/internal/app"
	"github.com/gmsas95/paperflow/internal/classify"
	"github.com/gmsas95/paperflow/internal/lifecycle"
	"github.com/gmsas95/paperflow/internal/splitter"
	"github.com/gmsas95/paperflow/internal/store"
)

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func requireArgs(n int, usage string, args []string) {
	if len(args) < n {
		fmt.Println("Usage: paperflow " + usage)
		os.Exit(1)
	}
}

// ==================== Review queue ====================

func HandleListCommand(args []string) {
	fs, g := newFlagSet("list")
	status := fs.String("status", string(store.StatusNeedsReview), "Status to list")
	limit := fs.Int("limit", 50, "Maximum documents")
	parse(fs, args)

	withApp(g, func(ctx context.Context, a *app.App) error {
		docs, err := a.Store.ListByStatus(ctx, store.DocumentStatus(*status), *limit)
		if err != nil {
			return err
		}
		if g.jsonOut {
			for i := range docs {
				docs[i].Content = ""
			}
			return printJSON(docs)
		}
		if len(docs) == 0 {
			fmt.Printf("No %s documents.\n", *status)
			return nil
		}
		for _, d := range docs {
			fmt.Printf("%s  %-13s %4.0f%%  %s\n", d.ID, d.Status, d.Confidence*100, displayName(&d))
		}
		return nil
	})
}

func displayName(d *store.Document) string {
	if d.Title != "" {
		return d.Title
	}
	return d.OriginalFilename
}

func HandleShowCommand(args []string) {
	fs, g := newFlagSet("show")
	parse(fs, args)
	requireArgs(1, "show <document-id>", fs.Args())

	withApp(g, func(ctx context.Context, a *app.App) error {
		doc, err := a.Store.GetDocument(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		values, err := a.Store.ListExtractedValues(ctx, doc.ID)
		if err != nil {
			return err
		}
		if g.jsonOut {
			return printJSON(map[string]any{"document": doc, "values": values})
		}

		fmt.Printf("Document:   %s\n", doc.ID)
		fmt.Printf("File:       %s\n", doc.FilePath)
		fmt.Printf("Status:     %s\n", doc.Status)
		fmt.Printf("Confidence: %.0f%%\n", doc.Confidence*100)
		if doc.ParentDocumentID != nil {
			fmt.Printf("Split from: %s pages %v\n", *doc.ParentDocumentID, doc.PageRange())
		}
		if doc.LastError != "" {
			fmt.Printf("Last error: %s\n", doc.LastError)
		}
		if len(doc.Suggestion) > 0 {
			fmt.Printf("Suggestion: %s\n", string(doc.Suggestion))
		}

		fields, err := a.Store.ListActiveFields(ctx)
		if err != nil {
			return err
		}
		codes := make(map[uint]string, len(fields))
		for _, f := range fields {
			codes[f.ID] = f.Code
		}
		if len(values) > 0 {
			fmt.Println("\nExtracted values:")
		}
		for _, v := range values {
			marker := ""
			switch {
			case v.IsCorrected:
				marker = " (corrected)"
			case v.IsConfirmed:
				marker = " (confirmed)"
			}
			fmt.Printf("  %-14s %-30s %-8s %.2f%s\n", codes[v.FieldID], v.Value, v.Source, v.Confidence, marker)
		}
		return nil
	})
}

// ==================== Lifecycle ====================

func HandleApplyCommand(args []string) {
	fs, g := newFlagSet("apply")
	parse(fs, args)
	requireArgs(1, "apply <document-id>", fs.Args())

	withApp(g, func(ctx context.Context, a *app.App) error {
		if err := a.Service.ApplySuggestions(ctx, fs.Arg(0)); err != nil {
			return err
		}
		fmt.Printf("✓ Applied suggestions to %s\n", fs.Arg(0))
		return nil
	})
}

func HandleValidateCommand(args []string) {
	fs, g := newFlagSet("validate")
	user := fs.String("user", currentUser(), "Validating user")
	dest := fs.String("dest", "", "Destination folder relative to the documents dir")
	title := fs.String("title", "", "Title override")
	date := fs.String("date", "", "Document date override")
	amount := fs.String("amount", "", "Amount override")
	correspondent := fs.Uint("correspondent", 0, "Correspondent id override")
	docType := fs.Uint("type", 0, "Document type id override")
	tags := fs.String("tags", "", "Comma separated tag ids")
	parse(fs, args)
	requireArgs(1, "validate [flags] <document-id>", fs.Args())

	o := lifecycle.Overrides{User: *user, Destination: *dest}
	if *title != "" {
		o.Title = title
	}
	if *date != "" {
		t, ok := classify.ParseDate(*date)
		if !ok {
			fail("Error", fmt.Errorf("unreadable date %q", *date))
		}
		o.DocumentDate = &t
	}
	if *amount != "" {
		v := splitter.ParseAmount(*amount)
		if v == nil {
			fail("Error", fmt.Errorf("unreadable amount %q", *amount))
		}
		o.Amount = v
	}
	if *correspondent > 0 {
		id := *correspondent
		o.CorrespondentID = &id
	}
	if *docType > 0 {
		id := *docType
		o.DocumentTypeID = &id
	}
	if *tags != "" {
		ids, err := parseIDs(*tags)
		if err != nil {
			fail("Error", err)
		}
		o.TagIDs = ids
	}

	withApp(g, func(ctx context.Context, a *app.App) error {
		doc, err := a.Service.Validate(ctx, fs.Arg(0), o)
		if err != nil {
			return err
		}
		if g.jsonOut {
			return printJSON(doc)
		}
		fmt.Printf("✓ Validated %s\n  → %s\n", doc.ID, doc.FilePath)
		return nil
	})
}

func parseIDs(s string) ([]uint, error) {
	var ids []uint
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, uint(n))
	}
	return ids, nil
}

func HandleSupersedeCommand(args []string) {
	fs, g := newFlagSet("supersede")
	parse(fs, args)
	requireArgs(1, "supersede <document-id>", fs.Args())

	withApp(g, func(ctx context.Context, a *app.App) error {
		if err := a.Service.Supersede(ctx, fs.Arg(0)); err != nil {
			return err
		}
		fmt.Printf("✓ Superseded %s, its file can be imported again\n", fs.Arg(0))
		return nil
	})
}

// ==================== Learning ====================

func HandleConfirmCommand(args []string) {
	fs, g := newFlagSet("confirm")
	user := fs.String("user", currentUser(), "Confirming user")
	parse(fs, args)
	requireArgs(2, "confirm <document-id> <field-code>", fs.Args())

	withApp(g, func(ctx context.Context, a *app.App) error {
		if err := a.Service.Confirm(ctx, fs.Arg(0), fs.Arg(1), *user); err != nil {
			return err
		}
		fmt.Printf("✓ Confirmed %s\n", fs.Arg(1))
		return nil
	})
}

func HandleCorrectCommand(args []string) {
	fs, g := newFlagSet("correct")
	user := fs.String("user", currentUser(), "Correcting user")
	parse(fs, args)
	requireArgs(3, "correct <document-id> <field-code> <value>", fs.Args())

	value := strings.Join(fs.Args()[2:], " ")
	withApp(g, func(ctx context.Context, a *app.App) error {
		if err := a.Service.Correct(ctx, fs.Arg(0), fs.Arg(1), value, *user); err != nil {
			return err
		}
		fmt.Printf("✓ Corrected %s to %q\n", fs.Arg(1), value)
		return nil
	})
}

func HandleSuggestionsCommand(args []string) {
	fs, g := newFlagSet("suggestions")
	correspondent := fs.Uint("correspondent", 0, "Restrict to a correspondent id")
	limit := fs.Int("limit", 10, "Maximum suggestions")
	parse(fs, args)
	requireArgs(1, "suggestions [flags] <field-code>", fs.Args())

	var correspondentID *uint
	if *correspondent > 0 {
		id := *correspondent
		correspondentID = &id
	}

	withApp(g, func(ctx context.Context, a *app.App) error {
		history, err := a.Service.Suggestions(ctx, fs.Arg(0), correspondentID, *limit)
		if err != nil {
			return err
		}
		if g.jsonOut {
			return printJSON(history)
		}
		if len(history) == 0 {
			fmt.Println("No learned values yet.")
			return nil
		}
		for _, h := range history {
			fmt.Printf("  %-30s used %-3d confirmed %-3d %.2f\n", h.Value, h.TimesUsed, h.TimesConfirmed, h.Confidence)
		}
		return nil
	})
}
