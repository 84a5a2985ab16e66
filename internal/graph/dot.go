// Package graph renders a model.MailGraph as Graphviz DOT text. This is
// the one-shot textual emitter spec §1 calls out as outside the three
// core subsystems; it is kept small and isolated since the CLI's graph
// command requires its exact output shape per spec §6.
package graph

import (
	"fmt"
	"io"
	"strings"

	"mailtrace/internal/model"
)

// WriteDOT renders g to w in the exact shape required by spec §6:
// nodes in order of first mention, then edges in insertion order with a
// monotonically increasing key starting at 0. Given identical graphs,
// two calls produce byte-identical output (spec §8's determinism
// property).
func WriteDOT(w io.Writer, g *model.MailGraph) error {
	var b strings.Builder
	b.WriteString("digraph {\n")
	for _, node := range g.Nodes() {
		fmt.Fprintf(&b, "%s;\n", node)
	}
	for i, edge := range g.Edges() {
		fmt.Fprintf(&b, "%s -> %s [key=%d, label=%s];\n", edge.FromHost, edge.ToHost, i, edge.QueueID)
	}
	b.WriteString("}\n")

	_, err := io.WriteString(w, b.String())
	return err
}
