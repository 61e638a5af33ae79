package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"gorm/shardroute/config"
	"gorm/shardroute/route"
)

type Cmder interface {
	Cmd() *cobra.Command
}

type App struct {
	config string
	out    io.Writer
}

func (a *App) Cmd() *cobra.Command {
	c := &cobra.Command{
		Use:               "shardctl",
		Short:             "CLI shardctl app for sharding rules",
		PersistentPreRunE: a.PersistentPreRunE,
		SilenceUsage:      true,
	}
	c.PersistentFlags().StringVarP(&a.config, "config", "c", "shard.toml", "sharding config")
	return c
}

func (a *App) PersistentPreRunE(cmd *cobra.Command, args []string) error {
	if strings.EqualFold(a.config, "") {
		if err := cmd.Help(); err != nil {
			return err
		}
		return fmt.Errorf("flag parameter [config] is requirement, can not null")
	}
	if a.out == nil {
		a.out = cmd.OutOrStdout()
	}
	return nil
}

type AppPreview struct {
	*App
	sql    string
	params []string
}

func (a *App) AppPreview() Cmder {
	return &AppPreview{App: a}
}

func (a *AppPreview) Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:              "preview",
		Short:            "preview the routed and rewritten sql",
		Long:             `preview the execution units of a sql statement without connecting to any datasource`,
		RunE:             a.RunE,
		TraverseChildren: true,
		SilenceUsage:     true,
	}
	cmd.Flags().StringVarP(&a.sql, "sql", "s", "", "sql statement")
	cmd.Flags().StringArrayVarP(&a.params, "param", "p", nil, "positional parameter, repeatable")
	return cmd
}

func (a *AppPreview) RunE(cmd *cobra.Command, args []string) error {
	if strings.EqualFold(a.sql, "") {
		return fmt.Errorf("flag parameter [sql] is requirement, can not null")
	}
	cfg, err := config.Load(a.config)
	if err != nil {
		return err
	}
	sr, err := cfg.Build(nil, nil)
	if err != nil {
		return err
	}
	defer sr.Close()

	plan, err := sr.Preview(context.Background(), a.sql, parseParams(a.params)...)
	if err != nil {
		return err
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"DATASOURCE", "TABLES", "SQL", "PARAMS"})
	for _, u := range plan.Units {
		tw.AppendRow(table.Row{u.DataSource, tablesOf(u.Unit.Tables), u.SQL, fmt.Sprintf("%v", u.Params)})
	}
	_, err = fmt.Fprintln(a.out, tw.Render())
	return err
}

type AppCheck struct {
	*App
}

func (a *App) AppCheck() Cmder {
	return &AppCheck{App: a}
}

func (a *AppCheck) Cmd() *cobra.Command {
	return &cobra.Command{
		Use:          "check",
		Short:        "check the sharding config",
		Long:         `check the sharding config and list its logic datasources`,
		RunE:         a.RunE,
		SilenceUsage: true,
	}
}

func (a *AppCheck) RunE(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.config)
	if err != nil {
		return err
	}
	sr, err := cfg.Build(nil, nil)
	if err != nil {
		return err
	}
	sr.Close()

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"LOGIC DATASOURCE", "PHYSICAL"})
	for _, name := range cfg.LogicDataSources() {
		physical := name
		for _, g := range cfg.ReadWrite {
			if strings.EqualFold(g.Name, name) {
				physical = strings.Join(append([]string{g.Primary}, g.Replicas...), ",")
			}
		}
		tw.AppendRow(table.Row{name, physical})
	}
	_, err = fmt.Fprintln(a.out, tw.Render())
	return err
}

func tablesOf(tables []route.RouteMapper) string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.LogicName + ":" + t.ActualName
	}
	return strings.Join(names, ",")
}

// parseParams reads integers, floats and NULL; everything else stays a string.
func parseParams(raw []string) []interface{} {
	params := make([]interface{}, len(raw))
	for i, s := range raw {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			params[i] = n
		} else if f, err := strconv.ParseFloat(s, 64); err == nil {
			params[i] = f
		} else if strings.EqualFold(s, "null") {
			params[i] = nil
		} else {
			params[i] = s
		}
	}
	return params
}
