package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"bollette/internal/app"
	"bollette/internal/attachments"
	"bollette/internal/core"
	"bollette/internal/session"
	"bollette/internal/store"
)

// filterFlags binds the filter predicates to a flag set.
type filterFlags struct {
	category string
	month    int
	year     int
	from     string
	to       string
	min      string
	max      string
}

func (f *filterFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.category, "category", "", "exact category name")
	fs.IntVar(&f.month, "month", 0, "billing month (1-12)")
	fs.IntVar(&f.year, "year", 0, "billing year")
	fs.StringVar(&f.from, "from", "", "earliest payment date (YYYY-MM-DD)")
	fs.StringVar(&f.to, "to", "", "latest payment date (YYYY-MM-DD)")
	fs.StringVar(&f.min, "min", "", "minimum amount")
	fs.StringVar(&f.max, "max", "", "maximum amount")
}

func (f *filterFlags) spec() (core.FilterSpec, error) {
	spec := core.FilterSpec{Category: f.category, BillingMonth: f.month, BillingYear: f.year}
	var err error
	if f.from != "" {
		if spec.DateFrom, err = core.ParseDate(f.from); err != nil {
			return spec, &core.ValidationError{Field: "from", Err: err}
		}
	}
	if f.to != "" {
		if spec.DateTo, err = core.ParseDate(f.to); err != nil {
			return spec, &core.ValidationError{Field: "to", Err: err}
		}
	}
	if f.min != "" {
		m, err := core.ParseMoney(f.min)
		if err != nil {
			return spec, &core.ValidationError{Field: "min", Err: err}
		}
		spec.AmountMin = &m
	}
	if f.max != "" {
		m, err := core.ParseMoney(f.max)
		if err != nil {
			return spec, &core.ValidationError{Field: "max", Err: err}
		}
		spec.AmountMax = &m
	}
	return spec, spec.Validate()
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

func runList(ctx context.Context, a *app.App, args []string) error {
	var filter filterFlags
	var pages int
	var asJSON bool
	fs := newFlagSet("list")
	filter.register(fs)
	fs.IntVar(&pages, "pages", 1, "number of pages to load")
	fs.BoolVar(&asJSON, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	spec, err := filter.spec()
	if err != nil {
		return err
	}

	if err := a.Store.SetFilter(ctx, spec); err != nil {
		return err
	}
	for i := 1; i < pages && a.Store.View().Page.HasMore; i++ {
		if err := a.Store.LoadMore(ctx); err != nil {
			return err
		}
	}

	v := a.Store.View()
	if asJSON {
		return writeJSON(os.Stdout, newViewJSON(v))
	}
	printBills(os.Stdout, v.Bills)
	printPageFooter(os.Stdout, v)
	return nil
}

func runSummary(ctx context.Context, a *app.App, args []string) error {
	var filter filterFlags
	var asJSON bool
	fs := newFlagSet("summary")
	filter.register(fs)
	fs.BoolVar(&asJSON, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	spec, err := filter.spec()
	if err != nil {
		return err
	}

	sum, err := session.Do(ctx, a.Interceptor, func(ctx context.Context) (core.Summary, error) {
		return a.Resolver.Resolve(ctx, spec)
	})
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(os.Stdout, newSummaryJSON(sum))
	}
	printSummary(os.Stdout, sum)
	return nil
}

func runAdd(ctx context.Context, a *app.App, args []string) error {
	var in core.BillInput
	var paid, amount string
	fs := newFlagSet("add")
	fs.StringVar(&in.Category, "category", "", "category name (required)")
	fs.IntVar(&in.BillingMonth, "month", 0, "billing month (required)")
	fs.IntVar(&in.BillingYear, "year", 0, "billing year (required)")
	fs.StringVar(&paid, "paid", "", "payment date YYYY-MM-DD (required)")
	fs.StringVar(&amount, "amount", "", "amount, e.g. 42.50 (required)")
	fs.StringVar(&in.Note, "note", "", "optional note")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var err error
	if in.PaymentDate, err = core.ParseDate(paid); err != nil {
		return &core.ValidationError{Field: "paid", Err: err}
	}
	if in.Amount, err = core.ParseMoney(amount); err != nil {
		return &core.ValidationError{Field: "amount", Err: err}
	}

	b, err := a.Store.Insert(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Created bill %s\n", b.ID)
	return nil
}

func runUpdate(ctx context.Context, a *app.App, args []string) error {
	var (
		category, paid, amount, note string
		month, year                  int
	)
	fs := newFlagSet("update")
	fs.StringVar(&category, "category", "", "new category")
	fs.IntVar(&month, "month", 0, "new billing month")
	fs.IntVar(&year, "year", 0, "new billing year")
	fs.StringVar(&paid, "paid", "", "new payment date YYYY-MM-DD")
	fs.StringVar(&amount, "amount", "", "new amount")
	fs.StringVar(&note, "note", "", "new note (empty clears it)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: bollette update <bill-id> [flags]")
	}
	id := fs.Arg(0)

	var patch core.BillPatch
	if fs.Changed("category") {
		patch.Category = &category
	}
	if fs.Changed("month") {
		patch.BillingMonth = &month
	}
	if fs.Changed("year") {
		patch.BillingYear = &year
	}
	if fs.Changed("paid") {
		d, err := core.ParseDate(paid)
		if err != nil {
			return &core.ValidationError{Field: "paid", Err: err}
		}
		patch.PaymentDate = &d
	}
	if fs.Changed("amount") {
		m, err := core.ParseMoney(amount)
		if err != nil {
			return &core.ValidationError{Field: "amount", Err: err}
		}
		patch.Amount = &m
	}
	if fs.Changed("note") {
		patch.Note = &note
	}

	b, err := a.Store.Update(ctx, id, patch)
	if err != nil {
		return err
	}
	printBills(os.Stdout, []core.Bill{b})
	return nil
}

func runDelete(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: bollette delete <bill-id>")
	}
	if err := a.Store.Delete(ctx, fs.Arg(0)); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Deleted bill %s\n", fs.Arg(0))
	return nil
}

func runCategories(ctx context.Context, a *app.App, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "list":
		cats, err := session.Do(ctx, a.Interceptor, a.Categories.ListCategories)
		if err != nil {
			return err
		}
		printCategories(os.Stdout, cats)
		return nil
	case "add":
		if len(args) != 1 {
			return fmt.Errorf("usage: bollette categories add <name>")
		}
		s, err := a.Sessions.Current(ctx)
		if err != nil || s == nil {
			return core.NewSessionExpiredError(err)
		}
		c, err := session.Do(ctx, a.Interceptor, func(ctx context.Context) (core.Category, error) {
			return a.Categories.AddCategory(ctx, args[0], s.UserID)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Created category %s (%s)\n", c.Name, c.ID)
		return nil
	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: bollette categories delete <id>")
		}
		err := a.Interceptor.Run(ctx, func(ctx context.Context) error {
			return a.Categories.DeleteCategory(ctx, args[0])
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Deleted category %s\n", args[0])
		return nil
	default:
		return fmt.Errorf("unknown categories command %q (want list, add or delete)", sub)
	}
}

func runAttachments(ctx context.Context, a *app.App, args []string) error {
	if a.Attachments == nil {
		return fmt.Errorf("attachments are disabled: set MINIO_ENDPOINT")
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: bollette attachments list|upload|delete|url <bill-id> ...")
	}
	sub, billID, rest := args[0], args[1], args[2:]

	switch sub {
	case "list":
		list, err := a.Attachments.List(ctx, billID)
		if err != nil {
			return err
		}
		printAttachments(os.Stdout, list)
		return nil
	case "upload":
		var kind string
		fs := newFlagSet("attachments upload")
		fs.StringVar(&kind, "kind", string(core.AttachmentBill), "bill, payment or other")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: bollette attachments upload <bill-id> <file> [--kind bill|payment|other]")
		}
		return uploadFile(ctx, a.Attachments, billID, fs.Arg(0), core.AttachmentKind(kind))
	case "delete", "url":
		if len(rest) != 1 {
			return fmt.Errorf("usage: bollette attachments %s <bill-id> <attachment-id>", sub)
		}
		att, err := findAttachment(ctx, a.Attachments, billID, rest[0])
		if err != nil {
			return err
		}
		if sub == "url" {
			url, err := a.Attachments.URL(ctx, att.Path)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, url)
			return nil
		}
		if err := a.Attachments.Delete(ctx, att); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Deleted attachment %s\n", att.ID)
		return nil
	default:
		return fmt.Errorf("unknown attachments command %q", sub)
	}
}

func uploadFile(ctx context.Context, svc *attachments.Service, billID, path string, kind core.AttachmentKind) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat attachment: %w", err)
	}

	att, err := svc.Upload(ctx, attachments.Upload{
		BillID:   billID,
		Kind:     kind,
		FileName: filepath.Base(path),
		MimeType: mime.TypeByExtension(filepath.Ext(path)),
		Size:     info.Size(),
		Body:     f,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Uploaded %s as %s\n", att.FileName, att.Path)
	return nil
}

func findAttachment(ctx context.Context, svc *attachments.Service, billID, id string) (core.Attachment, error) {
	list, err := svc.List(ctx, billID)
	if err != nil {
		return core.Attachment{}, err
	}
	for _, att := range list {
		if att.ID == id {
			return att, nil
		}
	}
	return core.Attachment{}, fmt.Errorf("attachment %s: %w", id, core.ErrNotFound)
}

// runWatch keeps the filtered list live until interrupted. Remote changes
// reach the store through the change bridge.
func runWatch(ctx context.Context, a *app.App, args []string) error {
	var filter filterFlags
	fs := newFlagSet("watch")
	filter.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	spec, err := filter.spec()
	if err != nil {
		return err
	}
	if a.Bridge == nil {
		fmt.Fprintln(os.Stderr, "PUSH_BACKEND is none: only local changes will show up")
	}

	views := make(chan struct{}, 1)
	unsubscribe := a.Store.Subscribe(func(store.View) {
		select {
		case views <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if err := a.Store.SetFilter(ctx, spec); err != nil {
		return err
	}

	var last string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-views:
			v := a.Store.View()
			if v.Loading || v.Summary.Stale {
				continue
			}
			out := renderView(v)
			if out != last {
				fmt.Fprintf(os.Stdout, "--- %s ---\n%s", time.Now().Format(time.TimeOnly), out)
				last = out
			}
		}
	}
}
