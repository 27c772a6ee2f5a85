package main

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imedwei/collection-backup/internal/model"
)

// objectSettings are the collection settings shared by add and set. Only
// flags given on the command line change the object.
type objectSettings struct {
	include     bool
	compression string
	naturalKeys bool
	pruneBy     string
	pruneValue  float64
	autoPrune   bool
	recipients  []string
}

func (s *objectSettings) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&s.include, "include", true, "take part in batch runs")
	f.StringVar(&s.compression, "compression", string(model.CompressionNone), "archive compression: none, gzip or bzip2")
	f.BoolVar(&s.naturalKeys, "natural-keys", model.DefaultUseNaturalKeys, "omit primary keys from dumps")
	f.StringVar(&s.pruneBy, "prune-by", string(model.PruneNone), "retention policy: none, count, size or time")
	f.Float64Var(&s.pruneValue, "prune-value", model.DefaultPruneValue, "archives to keep, kilobytes to keep or days to keep")
	f.BoolVar(&s.autoPrune, "auto-prune", false, "apply the retention policy after every new archive")
	f.StringSliceVar(&s.recipients, "mail", nil, "addresses new archives are mailed to (replaces the list)")
}

func (s *objectSettings) apply(cmd *cobra.Command, obj *model.BackupObject) error {
	f := cmd.Flags()

	if f.Changed("include") {
		obj.Include = s.include
	}
	if f.Changed("compression") {
		c, err := model.ParseCompression(s.compression)
		if err != nil {
			return err
		}
		obj.Compression = c
	}
	if f.Changed("natural-keys") {
		obj.UseNaturalKeys = s.naturalKeys
	}
	if f.Changed("prune-by") {
		p, err := model.ParsePruneBy(s.pruneBy)
		if err != nil {
			return err
		}
		obj.PruneBy = p
	}
	if f.Changed("prune-value") {
		obj.PruneValue = s.pruneValue
	}
	if f.Changed("auto-prune") {
		obj.AutoPrune = s.autoPrune
	}
	if f.Changed("mail") {
		recipients, err := parseRecipients(s.recipients)
		if err != nil {
			return err
		}
		obj.Recipients = recipients
	}
	return nil
}

func parseRecipients(list []string) ([]string, error) {
	var out []string
	for _, r := range list {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		addr, err := mail.ParseAddress(r)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient %q: %w", r, err)
		}
		out = append(out, addr.Address)
	}
	return out, nil
}
