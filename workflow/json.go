package workflow

import (
	"encoding/json"
	"fmt"
)

type (
	// workflowDoc is the wire form of a workflow. Field names follow the
	// import/export format used by the editor and sample catalogs.
	workflowDoc struct {
		ID          *string         `json:"id"`
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Nodes       []nodeDoc       `json:"nodes"`
		Connections []connectionDoc `json:"connections"`
		Settings    map[string]any  `json:"settings,omitempty"`
		TriggerKind string          `json:"triggerKind,omitempty"`
	}

	nodeDoc struct {
		ID           string         `json:"id"`
		Type         string         `json:"type"`
		Name         string         `json:"name"`
		Position     positionDoc    `json:"position"`
		Parameters   map[string]any `json:"parameters"`
		CredentialID string         `json:"credentialId,omitempty"`
		Disabled     bool           `json:"disabled,omitempty"`
		Notes        *string        `json:"notes"`
	}

	connectionDoc struct {
		ID           string `json:"id"`
		SourceNodeID string `json:"sourceNodeId"`
		SourceOutput string `json:"sourceOutput,omitempty"`
		TargetNodeID string `json:"targetNodeId"`
		TargetInput  string `json:"targetInput,omitempty"`
	}

	positionDoc struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	// Sample is a workflow bundled with catalog metadata, as shipped by
	// plugins and the built-in sample browser.
	Sample struct {
		Workflow *Workflow
		Metadata SampleMetadata
	}

	// SampleMetadata describes a sample workflow for the catalog UI.
	SampleMetadata struct {
		ID                   string            `json:"id"`
		Category             string            `json:"category"`
		Difficulty           string            `json:"difficulty"`
		Language             string            `json:"language"`
		Tags                 []string          `json:"tags"`
		Author               string            `json:"author"`
		Version              string            `json:"version"`
		Guide                Guide             `json:"guide"`
		RequiredCredentials  []string          `json:"requiredCredentials"`
		EnvironmentVariables map[string]string `json:"environmentVariables"`
	}

	// Guide is the step-by-step walkthrough attached to a sample.
	Guide struct {
		Steps []GuideStep `json:"steps"`
	}

	// GuideStep is one walkthrough step. HighlightNodes names the node ids
	// the editor highlights while the step is shown.
	GuideStep struct {
		Title          string   `json:"title"`
		Content        string   `json:"content"`
		HighlightNodes []string `json:"highlightNodes,omitempty"`
		CodeSnippet    string   `json:"codeSnippet,omitempty"`
	}

	sampleDoc struct {
		workflowDoc
		Metadata SampleMetadata `json:"metadata"`
	}
)

// Sample difficulty levels.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// ParseJSON decodes a workflow document. Parse failures surface here so the
// engine can refuse to run malformed imports. Omitted connection handles
// default to "main" and nil parameter maps normalise to empty maps.
func ParseJSON(data []byte) (*Workflow, error) {
	var doc workflowDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	wf := docToWorkflow(doc)
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	return wf, nil
}

// ParseSample decodes a sample workflow document carrying catalog metadata.
func ParseSample(data []byte) (*Sample, error) {
	var doc sampleDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sample workflow: %w", err)
	}
	wf := docToWorkflow(doc.workflowDoc)
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("parse sample workflow: %w", err)
	}
	return &Sample{Workflow: wf, Metadata: doc.Metadata}, nil
}

// EncodeJSON renders the workflow in the import/export format. The output
// round-trips through ParseJSON preserving node ids, the connection set,
// parameters and normalised handles.
func EncodeJSON(wf *Workflow) ([]byte, error) {
	doc := workflowDoc{
		Name:        wf.Name,
		Description: wf.Description,
		Nodes:       make([]nodeDoc, 0, len(wf.Nodes)),
		Connections: make([]connectionDoc, 0, len(wf.Connections)),
		Settings:    wf.Settings,
		TriggerKind: string(wf.TriggerKind),
	}
	if wf.ID != "" {
		id := wf.ID
		doc.ID = &id
	}
	for _, n := range wf.Nodes {
		nd := nodeDoc{
			ID:           n.ID,
			Type:         n.Type,
			Name:         n.Name,
			Position:     positionDoc{X: n.Position.X, Y: n.Position.Y},
			Parameters:   n.Parameters,
			CredentialID: n.CredentialID,
			Disabled:     n.Disabled,
		}
		if n.Notes != "" {
			notes := n.Notes
			nd.Notes = &notes
		}
		doc.Nodes = append(doc.Nodes, nd)
	}
	for _, c := range wf.Connections {
		doc.Connections = append(doc.Connections, connectionDoc{
			ID:           c.ID,
			SourceNodeID: c.SourceNodeID,
			SourceOutput: c.SourceOutput,
			TargetNodeID: c.TargetNodeID,
			TargetInput:  c.TargetInput,
		})
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	return out, nil
}

func docToWorkflow(doc workflowDoc) *Workflow {
	wf := &Workflow{
		Name:        doc.Name,
		Description: doc.Description,
		Settings:    doc.Settings,
		TriggerKind: TriggerKind(doc.TriggerKind),
	}
	if doc.ID != nil {
		wf.ID = *doc.ID
	}
	for _, nd := range doc.Nodes {
		params := nd.Parameters
		if params == nil {
			params = make(map[string]any)
		}
		n := Node{
			ID:           nd.ID,
			Type:         nd.Type,
			Name:         nd.Name,
			Position:     Position{X: nd.Position.X, Y: nd.Position.Y},
			Parameters:   params,
			CredentialID: nd.CredentialID,
			Disabled:     nd.Disabled,
		}
		if nd.Notes != nil {
			n.Notes = *nd.Notes
		}
		wf.Nodes = append(wf.Nodes, n)
	}
	for _, cd := range doc.Connections {
		wf.Connections = append(wf.Connections, Connection{
			ID:           cd.ID,
			SourceNodeID: cd.SourceNodeID,
			SourceOutput: normalizeHandle(cd.SourceOutput),
			TargetNodeID: cd.TargetNodeID,
			TargetInput:  normalizeHandle(cd.TargetInput),
		})
	}
	return wf
}
