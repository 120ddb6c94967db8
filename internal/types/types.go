package types

import (
	"github.com/costory/costory/internal/agent/prompt"
	"github.com/costory/costory/internal/quota"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ChatRequest struct {
	StoryId      string               `path:"storyID" json:"-"`
	Message      string               `json:"message"`
	Mode         string               `json:"mode,omitempty"`
	Context      *prompt.StoryContext `json:"context,omitempty"`
	ChapterIndex int                  `json:"chapterIndex,omitempty"`
	Model        string               `json:"model,omitempty"`
}

type ChatHistoryRequest struct {
	StoryId string `path:"storyID"`
	Limit   int    `form:"limit"`
}

type ChatTurn struct {
	Id        int64  `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

type ChatHistoryResponse struct {
	Summary string     `json:"summary,omitempty"`
	Turns   []ChatTurn `json:"turns"`
}

type ClearChatRequest struct {
	StoryId string `path:"storyID"`
}

type GetUsageResponse struct {
	quota.Report
}

type TrackWordsRequest struct {
	// WordCount is an explicit count. When zero, the words of the action block
	// in Content are counted instead.
	WordCount int64  `json:"wordCount,omitempty"`
	Content   string `json:"content,omitempty"`
}

type TrackWordsResponse struct {
	Success   bool  `json:"success"`
	WordCount int64 `json:"wordCount"`
}

type ReadingListCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type CreateReadingListRequest struct {
	Name string `json:"name"`
}

type CreateReadingListResponse struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

type EditRequest struct {
	Text        string `json:"text"`
	Instruction string `json:"instruction"`
}

type EditResponse struct {
	Text string `json:"text"`
	// Edited is false when the original text is returned unchanged after a
	// model failure.
	Edited bool   `json:"edited"`
	Model  string `json:"model,omitempty"`
}

type Model struct {
	Id            string `json:"id"`
	DisplayName   string `json:"displayName"`
	Pool          string `json:"pool,omitempty"`
	ContextWindow int    `json:"contextWindow,omitempty"`
	InputPrice    string `json:"inputPrice"`
	OutputPrice   string `json:"outputPrice"`
	RateLimited   bool   `json:"rateLimited"`
}

type ListModelsResponse struct {
	Default string  `json:"default"`
	Models  []Model `json:"models"`
}
