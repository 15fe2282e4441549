package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"go-file-engine/internal/model"
)

func (o *rootOpts) printJSON(v any) error {
	encoder := json.NewEncoder(o.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (o *rootOpts) print(result model.BatchResult) error {
	if o.asJSON {
		return o.printJSON(result)
	}

	w := tabwriter.NewWriter(o.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTATUS\tSOURCE\tRESULT\tBYTES")
	for _, item := range result.Items {
		outcome := item.FinalPath
		switch {
		case item.ErrorKind != "":
			outcome = fmt.Sprintf("%s: %s", item.ErrorKind, item.Detail)
		case item.Warning != "":
			outcome = fmt.Sprintf("%s (%s: %s)", item.FinalPath, item.Warning, item.WarningDetail)
		}
		fmt.Fprintf(w, "%d\t%s\t%s:%s\t%s\t%d\n", item.Index, item.Status, item.ResourceID, item.Source, outcome, item.BytesTransferred)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(o.out, "%s %s: %d succeeded, %d skipped, %d failed, %d cancelled, %d warnings in %s\n",
		result.Kind, result.BatchID, result.Succeeded, result.Skipped, result.Failed, result.Cancelled, result.Warnings,
		result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	return err
}

func (o *rootOpts) printEntries(entries []model.FileEntry) error {
	if o.asJSON {
		return o.printJSON(entries)
	}

	w := tabwriter.NewWriter(o.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tSIZE\tMODIFIED\tNAME")
	for _, entry := range entries {
		kind, size := "file", fmt.Sprintf("%d", entry.Size)
		if entry.IsDir {
			kind, size = "dir", "-"
		} else if entry.Size == model.SizeUnknown {
			size = "?"
		}
		modified := "-"
		if !entry.ModTime.IsZero() {
			modified = entry.ModTime.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", kind, size, modified, entry.Name)
	}
	return w.Flush()
}

func (o *rootOpts) printTrash(records []model.TrashRecord) error {
	if o.asJSON {
		return o.printJSON(records)
	}

	w := tabwriter.NewWriter(o.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRESOURCE\tORIGINAL\tDELETED\tEXPIRES\tRESTORED")
	for _, record := range records {
		expires, restored := "-", "-"
		if record.ExpiresAt != nil {
			expires = record.ExpiresAt.Local().Format(time.DateTime)
		}
		if record.RestoredAt != nil {
			restored = record.RestoredAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", record.ID, record.ResourceID, record.OriginalPath,
			record.DeletedAt.Local().Format(time.DateTime), expires, restored)
	}
	return w.Flush()
}
