// Package graph holds the described form of plans, which can be rendered
// as JSON, as an indented text tree and as a Graphviz DOT graph.
package graph

import (
	"fmt"
	"strings"

	"github.com/awalterschulze/gographviz"
	"github.com/kr/text"
	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"
)

type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Child struct {
	Name string `json:"name"`
	Node *Node  `json:"node"`
}

type Node struct {
	Name     string  `json:"name"`
	Fields   []Field `json:"fields,omitempty"`
	Children []Child `json:"children,omitempty"`
}

func NewNode(name string) *Node {
	return &Node{
		Name: name,
	}
}

func (n *Node) AddField(name, value string) {
	n.Fields = append(n.Fields, Field{
		Name:  name,
		Value: value,
	})
}

func (n *Node) AddChild(name string, node *Node) {
	n.Children = append(n.Children, Child{
		Name: name,
		Node: node,
	})
}

// Field returns the value of the named field, or false.
func (n *Node) Field(name string) (string, bool) {
	for _, field := range n.Fields {
		if field.Name == name {
			return field.Value, true
		}
	}
	return "", false
}

type Visualizer interface {
	Visualize() *Node
}

// Text renders the tree with every level indented by two spaces.
func Text(node *Node) string {
	var sb strings.Builder
	sb.WriteString(node.Name)
	sb.WriteString("\n")
	for _, field := range node.Fields {
		fmt.Fprintf(&sb, "  %s: %s\n", field.Name, field.Value)
	}
	for _, child := range node.Children {
		fmt.Fprintf(&sb, "  %s:\n", child.Name)
		sb.WriteString(text.Indent(Text(child.Node), "    "))
	}
	return sb.String()
}

// Diff returns a unified diff of the text renderings of two trees, empty if they're equal.
func Diff(fromName string, from *Node, toName string, to *Node) (string, error) {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(Text(from)),
		B:        difflib.SplitLines(Text(to)),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	})
	if err != nil {
		return "", errors.Wrap(err, "couldn't diff plans")
	}
	return diff, nil
}

// Show renders the tree as a left to right graph of record shaped nodes.
func Show(node *Node) (*gographviz.Graph, error) {
	graph := gographviz.NewGraph()
	graph.Directed = true
	if err := graph.SetName("plan"); err != nil {
		return nil, err
	}
	if err := graph.AddAttr("plan", "rankdir", "LR"); err != nil {
		return nil, err
	}
	builder := &graphBuilder{
		graph:        graph,
		nameCounters: make(map[string]int),
	}

	if _, err := getGraphNode(builder, node); err != nil {
		return nil, err
	}

	return graph, nil
}

type graphBuilder struct {
	graph        *gographviz.Graph
	nameCounters map[string]int
}

func (gb *graphBuilder) getID(name string) string {
	count := gb.nameCounters[name]
	gb.nameCounters[name]++
	return fmt.Sprintf("%s_%d", strings.Replace(name, " ", "_", -1), count)
}

var recordEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`{`, `\{`,
	`}`, `\}`,
	`|`, `\|`,
	`<`, `\<`,
	`>`, `\>`,
)

func getGraphNode(gb *graphBuilder, node *Node) (string, error) {
	fields := make([]string, len(node.Fields))
	for i, field := range node.Fields {
		fields[i] = fmt.Sprintf("<%s> %s: %s", field.Name, field.Name, recordEscaper.Replace(field.Value))
	}
	childPorts := make([]string, len(node.Children))
	for i, child := range node.Children {
		childPorts[i] = fmt.Sprintf("<%s> %s", child.Name, child.Name)
	}

	var labelParts []string
	labelParts = append(labelParts, fmt.Sprintf("<f0> %s", node.Name))

	if len(fields) > 0 {
		labelParts = append(labelParts, strings.Join(fields, "|"))
	}
	if len(childPorts) > 0 {
		labelParts = append(labelParts, strings.Join(childPorts, "|"))
	}

	label := fmt.Sprintf(
		"\"{{%s}}\"",
		strings.Join(labelParts, "}|{"),
	)

	id := gb.getID(node.Name)
	err := gb.graph.AddNode("plan", id, map[string]string{
		"shape": "record",
		"label": label,
	})
	if err != nil {
		return "", errors.Wrapf(err, "couldn't add node %s", id)
	}

	for _, child := range node.Children {
		childGraphNode, err := getGraphNode(gb, child.Node)
		if err != nil {
			return "", err
		}
		err = gb.graph.AddPortEdge(id, child.Name, childGraphNode, "", true, map[string]string{})
		if err != nil {
			return "", errors.Wrapf(err, "couldn't add edge %s -> %s", id, childGraphNode)
		}
	}
	return id, nil
}
