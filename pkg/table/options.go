package table

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/leapstack-labs/leapframe/pkg/query"
)

type countOptions struct {
	As string `mapstructure:"as"`
}

type sampleOptions struct {
	Replace bool  `mapstructure:"replace"`
	Shuffle *bool `mapstructure:"shuffle"`
	Weight  any   `mapstructure:"weight"`
}

type foldOptions struct {
	As []string `mapstructure:"as"`
}

type pivotOptions struct {
	Limit          int    `mapstructure:"limit"`
	KeySeparator   string `mapstructure:"keySeparator"`
	ValueSeparator string `mapstructure:"valueSeparator"`
	Sort           *bool  `mapstructure:"sort"`
}

type spreadOptions struct {
	As    []string `mapstructure:"as"`
	Limit int      `mapstructure:"limit"`
	Drop  bool     `mapstructure:"drop"`
}

type unrollOptions struct {
	Limit int `mapstructure:"limit"`
	Index any `mapstructure:"index"`
	Drop  any `mapstructure:"drop"`
}

type joinOptions struct {
	Left   bool     `mapstructure:"left"`
	Right  bool     `mapstructure:"right"`
	Suffix []string `mapstructure:"suffix"`
}

// decodeOptions decodes a verb options value into out. Nil leaves the
// defaults in place.
func decodeOptions(v any, out any) error {
	if v == nil {
		return nil
	}
	obj, ok := v.(query.Object)
	if !ok {
		return fmt.Errorf("options must be an object, got %T", v)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(obj.Map()); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
