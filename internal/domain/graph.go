// Package domain defines the persistence models for the instant-win
// conversation flow engine: the per-prize conversation graph (templates,
// nodes, edges, messages), the prize quota state, and per-user conversation
// sessions. These types are mapped with GORM and form the core data layer
// of the engine.
package domain

import (
	"time"
)

// TemplateType classifies an ordered stage of a prize's conversation script.
type TemplateType string

// Template stages, executed in ascending StepOrder.
const (
	TemplateStart        TemplateType = "START"
	TemplateMessage      TemplateType = "MESSAGE"
	TemplateTree         TemplateType = "TREE"
	TemplateLotteryGroup TemplateType = "LOTTERY_GROUP"
	TemplateEnd          TemplateType = "END"
)

// Valid reports whether t is one of the known template stages.
func (t TemplateType) Valid() bool {
	switch t {
	case TemplateStart, TemplateMessage, TemplateTree, TemplateLotteryGroup, TemplateEnd:
		return true
	}
	return false
}

// NodeType classifies a vertex in a template's conversation graph.
type NodeType string

// Node kinds. The flow interpreter dispatches on this closed set; an unknown
// value is rejected when the graph is loaded, never silently skipped.
const (
	NodeFirstTrigger  NodeType = "FIRST_TRIGGER"
	NodeMessage       NodeType = "MESSAGE"
	NodeSelectOption  NodeType = "MESSAGE_SELECT_OPTION"
	NodeLottery       NodeType = "LOTTERY"
	NodeLotteryResult NodeType = "LOTTERY_MESSAGE"
)

// Valid reports whether n is one of the known node kinds.
func (n NodeType) Valid() bool {
	switch n {
	case NodeFirstTrigger, NodeMessage, NodeSelectOption, NodeLottery, NodeLotteryResult:
		return true
	}
	return false
}

// MessageType classifies the renderable payload attached to a node.
type MessageType string

// Message payload kinds.
const (
	MessageText   MessageType = "TEXT"
	MessageMedia  MessageType = "MEDIA"
	MessageCard   MessageType = "CARD"
	MessageSelect MessageType = "SELECT"
)

// Valid reports whether m is one of the known message kinds.
func (m MessageType) Valid() bool {
	switch m {
	case MessageText, MessageMedia, MessageCard, MessageSelect:
		return true
	}
	return false
}

// Edge conditions reserved for lottery outcome routing. Select-option edges
// carry the (normalized) option value instead.
const (
	ConditionWon  = "WON"
	ConditionLost = "LOST"
)

// Template represents an ordered stage of a prize's conversation script.
// Exactly one active template sequence per prize starts at StepOrder 0.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - PrizeID: owning prize; indexed for graph loads.
//   - Type: stage classifier (START, MESSAGE, TREE, LOTTERY_GROUP, END).
//   - StepOrder: execution order among the prize's templates (ascending).
//   - IsActive: inactive templates are invisible to the engine.
type Template struct {
	ID        string       `json:"id"         gorm:"type:char(36);primaryKey"`
	PrizeID   string       `json:"prize_id"   gorm:"type:char(36);not null;index:idx_prize_templates"`
	Type      TemplateType `json:"type"       gorm:"type:varchar(32);not null"`
	StepOrder int          `json:"step_order" gorm:"not null"`
	// IsActive carries no column default: GORM omits zero values for
	// defaulted fields on Create, which would persist a deactivated
	// template as active.
	IsActive  bool      `json:"is_active" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Template.
func (Template) TableName() string { return "templates" }

// Node represents one processing step in a template's conversation graph.
type Node struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	TemplateID string    `json:"template_id" gorm:"type:char(36);not null;index:idx_template_nodes"`
	PrizeID    string    `json:"prize_id"    gorm:"type:char(36);not null;index:idx_prize_nodes"`
	Type       NodeType  `json:"type"        gorm:"type:varchar(32);not null"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Template is the owning stage. Nodes are cascade-deleted with it.
	Template Template `json:"-" gorm:"foreignKey:TemplateID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Node.
func (Node) TableName() string { return "nodes" }

// Edge is a directed, conditionally-taken transition between two nodes of the
// same prize's graph. ConditionData carries the selected option value for
// MESSAGE_SELECT_OPTION sources, or WON/LOST for LOTTERY sources; it is empty
// for unconditional transitions. IsFallback marks the designated default edge
// of a select node, taken when no option value matches.
type Edge struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	PrizeID       string    `json:"prize_id"       gorm:"type:char(36);not null;index:idx_prize_edges"`
	SourceNodeID  string    `json:"source_node_id" gorm:"type:char(36);not null;index:idx_edge_source"`
	TargetNodeID  string    `json:"target_node_id" gorm:"type:char(36);not null"`
	ConditionData string    `json:"condition_data" gorm:"type:varchar(255);not null;default:''"`
	IsFallback    bool      `json:"is_fallback"    gorm:"not null;default:false"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Edge.
func (Edge) TableName() string { return "edges" }

// Message is a renderable payload attached to a node, delivered when the flow
// enters that node. A node may own several messages, sent in DisplayOrder.
type Message struct {
	ID           string      `json:"id"            gorm:"type:char(36);primaryKey"`
	NodeID       string      `json:"node_id"       gorm:"type:char(36);not null;index:idx_node_messages,priority:1"`
	PrizeID      string      `json:"prize_id"      gorm:"type:char(36);not null;index:idx_prize_messages"`
	Type         MessageType `json:"message_type"  gorm:"type:varchar(16);not null"`
	Body         string      `json:"body"          gorm:"type:text;not null"`
	MediaURL     string      `json:"media_url"     gorm:"type:varchar(2048);not null;default:''"`
	DisplayOrder int         `json:"display_order" gorm:"not null;default:0;index:idx_node_messages,priority:2"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`

	// CardButtons are present only for CARD messages, ordered by DisplayOrder.
	CardButtons []MessageCardButton `json:"card_buttons,omitempty" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	// SelectOptions are present only for SELECT messages, ordered by DisplayOrder.
	SelectOptions []MessageSelectOption `json:"select_options,omitempty" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// MessageCardButton is one ordered button of a CARD message.
type MessageCardButton struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	MessageID    string    `json:"message_id"    gorm:"type:char(36);not null;index"`
	ButtonType   string    `json:"button_type"   gorm:"type:varchar(32);not null"`
	Label        string    `json:"label"         gorm:"type:varchar(255);not null"`
	URL          string    `json:"url"           gorm:"type:varchar(2048);not null;default:''"`
	DisplayOrder int       `json:"display_order" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for MessageCardButton.
func (MessageCardButton) TableName() string { return "message_card_buttons" }

// MessageSelectOption is one ordered choice of a SELECT message. Value is the
// payload echoed back by the chat channel when the user picks the option;
// ParentNodeID supports chained selects whose option set depends on an
// earlier node.
type MessageSelectOption struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	MessageID    string    `json:"message_id"    gorm:"type:char(36);not null;index"`
	Label        string    `json:"label"         gorm:"type:varchar(255);not null"`
	Value        string    `json:"value"         gorm:"type:varchar(255);not null"`
	DisplayOrder int       `json:"display_order" gorm:"not null;default:0"`
	ParentNodeID *string   `json:"parent_node_id,omitempty" gorm:"type:char(36)"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for MessageSelectOption.
func (MessageSelectOption) TableName() string { return "message_select_options" }
