package model

// Schema is the subset of OpenAPI schema understood by the remote model for
// function declarations and structured responses.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// FunctionDeclaration describes a tool the live model may call.
type FunctionDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// LogEventFunction is the name of the live event logging tool.
const LogEventFunction = "logPerformanceEvent"

// LogEventDeclaration declares the live event logging tool.
func LogEventDeclaration() FunctionDeclaration {
	return FunctionDeclaration{
		Name:        LogEventFunction,
		Description: "Records a technical success or error during the match.",
		Parameters: &Schema{
			Type: "OBJECT",
			Properties: map[string]*Schema{
				"type":        {Type: "STRING", Enum: []string{string(EventSuccess), string(EventError)}},
				"category":    {Type: "STRING", Enum: []string{string(CategoryFootwork), string(CategoryTiming), string(CategoryTechnique), string(CategoryTactical), string(CategoryLineCall)}},
				"description": {Type: "STRING"},
				"callType":    {Type: "STRING", Enum: []string{string(CallIn), string(CallOut), string(CallNet)}},
			},
			Required: []string{"type", "category", "description"},
		},
	}
}

// AnalysisResponseSchema is the structured output requested from batch analysis.
func AnalysisResponseSchema() *Schema {
	number := func() *Schema { return &Schema{Type: "NUMBER"} }
	return &Schema{
		Type: "OBJECT",
		Properties: map[string]*Schema{
			"summary": {
				Type: "OBJECT",
				Properties: map[string]*Schema{
					"successRate":    number(),
					"errorRate":      number(),
					"totalSuccesses": number(),
					"totalErrors":    number(),
					"totalEvents":    number(),
				},
				Required: []string{"successRate", "errorRate", "totalSuccesses", "totalErrors", "totalEvents"},
			},
			"events": {
				Type: "ARRAY",
				Items: &Schema{
					Type: "OBJECT",
					Properties: map[string]*Schema{
						"timestamp":   {Type: "STRING"},
						"type":        {Type: "STRING", Enum: []string{string(EventSuccess), string(EventError)}},
						"movement":    {Type: "STRING"},
						"location":    {Type: "STRING"},
						"callType":    {Type: "STRING", Enum: []string{string(CallIn), string(CallOut), string(CallNet)}},
						"description": {Type: "STRING"},
					},
					Required: []string{"timestamp", "type", "description", "movement", "location", "callType"},
				},
			},
			"sportType": {Type: "STRING"},
		},
	}
}
