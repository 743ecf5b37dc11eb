// Package main implements a demo driver for the range sync coordinator:
// it wires together an in-memory NetworkContext/BlockProcessor pair and
// runs the coordinator loop against randomly generated peer status
// updates. It exists to exercise the CLI/config ambient stack
// (gopkg.in/urfave/cli.v1, github.com/naoina/toml) the way the teacher's
// own cmd/gabey does, not as a production node.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
)

// driverConfig is the demo's TOML-loadable configuration: which peers
// to simulate and how far behind the local node should start.
type driverConfig struct {
	ListenMetricsAddr string `toml:",omitempty"`
	SimulatedPeers    int    `toml:",omitempty"`
	LocalHeadSlot     uint64 `toml:",omitempty"`
}

// tomlSettings mirrors the teacher's cmd/gabey/config.go: TOML keys use
// the same names as the Go struct fields, and an unrecognized field in
// the config file is a hard error rather than silently ignored.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

func defaultConfig() driverConfig {
	return driverConfig{
		ListenMetricsAddr: ":9191",
		SimulatedPeers:    4,
		LocalHeadSlot:     0,
	}
}

func loadConfig(file string, cfg *driverConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}
