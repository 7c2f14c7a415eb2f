package main

import (
	"fmt"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/dicelink/pkg/dice"
	"github.com/srg/dicelink/pkg/message"
)

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "List the wire protocol's message table",
	Long: `Print every registered protocol message: its numeric ID, name, and
payload fields. Useful when sniffing traffic or extending the protocol.`,
	RunE: runMessages,
}

func runMessages(cmd *cobra.Command, args []string) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tFIELDS")

	dice.Registry().Each(func(id message.ID, typ reflect.Type) bool {
		fmt.Fprintf(tw, "0x%02X\t%s\t%s\n", uint8(id), typ.Name(), fieldList(typ))
		return true
	})

	return tw.Flush()
}

func fieldList(typ reflect.Type) string {
	if typ.NumField() == 0 {
		return "-"
	}

	parts := make([]string, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.Name == "_" {
			parts = append(parts, fmt.Sprintf("pad[%d]", f.Type.Len()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", f.Name, f.Type.Name()))
	}
	return strings.Join(parts, ", ")
}
