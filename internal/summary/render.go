package summary

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Write renders the report in the given format
func (r *Report) Write(w io.Writer, format string) error {
	switch format {
	case "", FormatText:
		return r.WriteText(w)
	case FormatJSON:
		return r.WriteJSON(w)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteJSON prints the report as indented JSON
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText prints a count table followed by the names in every bucket
func (r *Report) WriteText(w io.Writer) error {
	buckets := r.all()

	fmt.Fprintf(w, "Found %d items\n\n", r.Items)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BUCKET\tCOUNT")
	for _, b := range buckets {
		fmt.Fprintf(tw, "%s\t%d\n", b.Title, b.Count)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, b := range buckets {
		if b.Count == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%d %s: %s\n", b.Count, b.Title, strings.Join(b.Names(), ","))
		if !b.Detail {
			continue
		}
		for _, e := range b.Entries {
			fmt.Fprintf(w, "   %s: %s\n", e.Name, e.Error)
		}
	}
	return nil
}

func (r *Report) all() []*Bucket {
	out := make([]*Bucket, 0, len(r.Conversions)+len(r.Uploads)+2)
	out = append(out, r.Conversions...)
	out = append(out, r.Unsupported, r.Unrecognized)
	return append(out, r.Uploads...)
}
