package graphapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
)

// Graph is the node-and-link representation of a generation pipeline as
// authored in the ComfyUI editor and stored under the "workflow" PNG tag.
// It is treated as pass-through data: decoding indexes the pieces the
// package operates on and keeps everything else raw.
type Graph struct {
	Nodes      []*GraphNode `json:"nodes"`
	Links      []*Link      `json:"links"`
	LastNodeID int          `json:"last_node_id,omitempty"`
	LastLinkID int          `json:"last_link_id,omitempty"`
	Version    float64      `json:"version,omitempty"`

	NodesByID map[int]*GraphNode `json:"-"`
	LinksByID map[int]*Link      `json:"-"`
}

func (g *Graph) UnmarshalJSON(b []byte) error {
	// Decode the envelope with raw nodes and links so a single malformed
	// entry is skipped instead of aborting the whole graph.
	var alias struct {
		Nodes      []json.RawMessage `json:"nodes"`
		Links      []json.RawMessage `json:"links"`
		LastNodeID int               `json:"last_node_id"`
		LastLinkID int               `json:"last_link_id"`
		Version    float64           `json:"version"`
	}
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}

	g.LastNodeID = alias.LastNodeID
	g.LastLinkID = alias.LastLinkID
	g.Version = alias.Version
	g.Nodes = make([]*GraphNode, 0, len(alias.Nodes))
	g.Links = make([]*Link, 0, len(alias.Links))
	g.NodesByID = make(map[int]*GraphNode)
	g.LinksByID = make(map[int]*Link)

	for _, raw := range alias.Nodes {
		node := &GraphNode{}
		if err := json.Unmarshal(raw, node); err != nil {
			slog.Warn("skipping malformed graph node", "error", err)
			continue
		}
		if err := json.Unmarshal(raw, &node.Raw); err != nil {
			slog.Warn("skipping malformed graph node", "error", err)
			continue
		}
		g.Nodes = append(g.Nodes, node)
		g.NodesByID[node.ID] = node
	}

	for _, raw := range alias.Links {
		// Editors leave null holes in the links array after deletions.
		if string(bytes.TrimSpace(raw)) == "null" {
			continue
		}
		link := &Link{}
		if err := json.Unmarshal(raw, link); err != nil {
			slog.Warn("skipping malformed graph link", "error", err)
			continue
		}
		g.Links = append(g.Links, link)
		g.LinksByID[link.ID] = link
	}
	return nil
}

// GetNodeByID returns the node with the given id, or nil.
func (g *Graph) GetNodeByID(id int) *GraphNode {
	return g.NodesByID[id]
}

// GetLinkByID returns the link with the given id, or nil.
func (g *Graph) GetLinkByID(id int) *Link {
	return g.LinksByID[id]
}

// GetNodesWithKind returns all nodes classified as the given kind, in graph
// order.
func (g *Graph) GetNodesWithKind(kind NodeKind) []*GraphNode {
	retv := make([]*GraphNode, 0)
	for _, n := range g.Nodes {
		if n.Kind() == kind {
			retv = append(retv, n)
		}
	}
	return retv
}
