package graphapi

// NodeKind is the recognized role of a node within a workflow. Anything the
// package does not operate on decodes as KindUnknown and passes through
// untouched.
type NodeKind int

const (
	KindUnknown NodeKind = iota
	KindTextEncoder
	KindSampler
	KindCheckpointLoader
	KindEmbedder
	KindPreview
)

// ClassTextEncoders are the node classes whose literal text inputs are
// extracted and rewritten.
var ClassTextEncoders = map[string]bool{
	"CLIPTextEncode":     true,
	"CLIPTextEncodeSDXL": true,
}

var classCheckpointLoaders = map[string]bool{
	"CheckpointLoaderSimple":    true,
	"CheckpointLoader":          true,
	"CheckpointLoaderWithModel": true,
	"UnetLoaderGGUF":            true,
}

const (
	classSampler  = "KSampler"
	classEmbedder = "PromptWorkflowEmbedder"
	classPreview  = "PreviewImage"
)

// KindOf classifies a node class/type name.
func KindOf(classType string) NodeKind {
	switch {
	case ClassTextEncoders[classType]:
		return KindTextEncoder
	case classType == classSampler:
		return KindSampler
	case classCheckpointLoaders[classType]:
		return KindCheckpointLoader
	case classType == classEmbedder:
		return KindEmbedder
	case classType == classPreview:
		return KindPreview
	}
	return KindUnknown
}

// GraphNode is a single node within a workflow graph. Only the fields the
// package operates on are typed; the full decoded mapping is retained in Raw
// so unrecognized nodes round-trip without loss.
type GraphNode struct {
	ID           int            `json:"id"`
	Type         string         `json:"type"`
	Order        int            `json:"order"`
	Mode         int            `json:"mode"`
	Title        string         `json:"title,omitempty"`
	WidgetValues []any          `json:"widgets_values,omitempty"`
	Inputs       []Slot         `json:"inputs,omitempty"`
	Raw          map[string]any `json:"-"`
}

// Slot is an input connection point on a GraphNode. Link is the id of the
// inbound link, or 0 when the slot is fed by a widget value instead.
type Slot struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Link int    `json:"link,omitempty"`
}

// Kind classifies the node, preferring class_type when the source mapping
// carries one (API-exported workflows do, editor exports use type).
func (n *GraphNode) Kind() NodeKind {
	return KindOf(n.ClassType())
}

// ClassType returns the node's class_type, falling back to its type.
func (n *GraphNode) ClassType() string {
	if n.Raw != nil {
		if ct, ok := n.Raw["class_type"].(string); ok && ct != "" {
			return ct
		}
	}
	return n.Type
}

// LeadWidgetString returns the node's first widget value when it is a
// string. Text encoder nodes keep their literal text there when it is not an
// explicit input.
func (n *GraphNode) LeadWidgetString() (string, bool) {
	if len(n.WidgetValues) == 0 {
		return "", false
	}
	s, ok := n.WidgetValues[0].(string)
	return s, ok
}
