package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtrace/internal/model"
)

func TestWriteDOTScenario(t *testing.T) {
	g := model.NewMailGraph()
	g.AddHop(model.MailHop{FromHost: "A", ToHost: "B", QueueID: "Q1"})
	g.AddHop(model.MailHop{FromHost: "A", ToHost: "C", QueueID: "Q2"})
	g.AddHop(model.MailHop{FromHost: "A", ToHost: "B", QueueID: "Q1"}) // duplicate, suppressed

	var buf strings.Builder
	require.NoError(t, WriteDOT(&buf, g))

	expected := "digraph {\nA;\nB;\nC;\nA -> B [key=0, label=Q1];\nA -> C [key=1, label=Q2];\n}\n"
	assert.Equal(t, expected, buf.String())
}

func TestWriteDOTDeterministic(t *testing.T) {
	build := func() *model.MailGraph {
		g := model.NewMailGraph()
		g.AddHop(model.MailHop{FromHost: "mx", ToHost: "mailer", QueueID: "ABC123"})
		return g
	}

	var a, b strings.Builder
	require.NoError(t, WriteDOT(&a, build()))
	require.NoError(t, WriteDOT(&b, build()))
	assert.Equal(t, a.String(), b.String())
}
