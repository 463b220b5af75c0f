package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"studybuddy/internal/apperr"
	"studybuddy/internal/awssdk"
	"studybuddy/internal/generation"
	"studybuddy/internal/logging"
	"studybuddy/internal/models"
	"studybuddy/internal/timez"
)

const (
	defaultNumCards     = 20
	defaultNumQuestions = 10
	maxNumQuestions     = 20
	unknownTopicID      = "topic-unknown"
)

// Generator is the slice of the generation service the async workflows use.
type Generator interface {
	GenerateFlashcardsFromMaterials(ctx context.Context, courseID string, materialKeys []string, numCards int) ([]generation.Flashcard, error)
	GeneratePracticeExam(ctx context.Context, courseID string, numQuestions int) (generation.PracticeExam, error)
}

// Workflows holds the worker and finalize handlers for async flashcard and
// practice exam generation. Workers never fail the task: generation errors
// travel in the error field so finalize always records a terminal state.
type Workflows struct {
	gen        Generator
	jobs       *JobStore
	db         awssdk.DynamoDBAPI
	cardsTable string
	log        logging.Logger
	now        func() time.Time
}

// WorkflowParams wires Workflows.
type WorkflowParams struct {
	Generator  Generator
	Jobs       *JobStore
	DB         awssdk.DynamoDBAPI
	CardsTable string
	Logger     logging.Logger
	Now        func() time.Time
}

// NewWorkflows builds Workflows from WorkflowParams.
func NewWorkflows(p WorkflowParams) *Workflows {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Workflows{
		gen:        p.Generator,
		jobs:       p.Jobs,
		db:         p.DB,
		cardsTable: p.CardsTable,
		log:        logging.OrNop(p.Logger),
		now:        now,
	}
}

// FlashcardJobInput is the flashcard workflow submission payload.
type FlashcardJobInput struct {
	JobID          string   `json:"jobId"`
	UserID         string   `json:"userId"`
	CourseID       string   `json:"courseId"`
	MaterialS3Keys []string `json:"materialS3Keys"`
	NumCards       int      `json:"numCards,omitempty"`
}

// FlashcardJobState is the worker output threaded into finalize.
type FlashcardJobState struct {
	FlashcardJobInput
	Cards []generation.Flashcard `json:"cards"`
	Error string                 `json:"error"`
}

// FlashcardResult is the terminal flashcard workflow output.
type FlashcardResult struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	CardCount int    `json:"cardCount"`
	UpdatedAt string `json:"updatedAt"`
	Error     string `json:"error"`
}

// FlashcardWorker generates cards from mirrored materials.
func (w *Workflows) FlashcardWorker(ctx context.Context, in FlashcardJobInput) FlashcardJobState {
	state := FlashcardJobState{FlashcardJobInput: in, Cards: []generation.Flashcard{}}
	if strings.TrimSpace(in.CourseID) == "" || len(in.MaterialS3Keys) == 0 || strings.TrimSpace(in.UserID) == "" {
		state.Error = "userId, courseId and materialS3Keys are required"
		return state
	}
	numCards := in.NumCards
	if numCards <= 0 {
		numCards = defaultNumCards
	}

	cards, err := w.gen.GenerateFlashcardsFromMaterials(ctx, in.CourseID, in.MaterialS3Keys, numCards)
	if err != nil {
		w.log.Error("flashcard generation failed for job %s: %v", in.JobID, err)
		state.Error = err.Error()
		return state
	}
	state.Cards = cards
	return state
}

// FlashcardFinalize persists generated cards and marks the job terminal.
func (w *Workflows) FlashcardFinalize(ctx context.Context, in FlashcardJobState) (FlashcardResult, error) {
	jobID := strings.TrimSpace(in.JobID)
	errMsg := strings.TrimSpace(in.Error)
	status := StatusFinished
	if errMsg != "" {
		status = StatusFailed
	}
	now := timez.Format(w.now())

	cardIDs := []string{}
	if status == StatusFinished && len(in.Cards) > 0 {
		if w.cardsTable == "" {
			return FlashcardResult{}, apperr.NewMisconfigured("CARDS_TABLE")
		}
		for _, card := range in.Cards {
			if strings.TrimSpace(card.ID) == "" {
				continue
			}
			stored := models.Card{
				ID:        card.ID,
				CourseID:  card.CourseID,
				TopicID:   card.TopicID,
				Prompt:    card.Prompt,
				Answer:    card.Answer,
				Citations: card.Citations,
				DueAt:     now,
			}
			if stored.CourseID == "" {
				stored.CourseID = in.CourseID
			}
			if stored.TopicID == "" {
				stored.TopicID = unknownTopicID
			}
			item, err := stored.Item(in.UserID)
			if err != nil {
				w.log.Warn("skipping malformed card %s for job %s: %v", card.ID, jobID, err)
				continue
			}
			if _, err := w.db.PutItem(ctx, &dynamodb.PutItemInput{
				TableName: aws.String(w.cardsTable),
				Item:      item,
			}); err != nil {
				return FlashcardResult{}, apperr.NewUpstream("card write", err)
			}
			cardIDs = append(cardIDs, card.ID)
		}
	}

	if err := w.jobs.patchResult(ctx, jobID, status, errMsg, now, "cards", in.Cards, cardIDs); err != nil {
		return FlashcardResult{}, err
	}
	return FlashcardResult{
		JobID:     jobID,
		Status:    status,
		CardCount: len(cardIDs),
		UpdatedAt: now,
		Error:     errMsg,
	}, nil
}

// ExamJobInput is the practice exam workflow submission payload.
type ExamJobInput struct {
	JobID        string `json:"jobId"`
	CourseID     string `json:"courseId"`
	NumQuestions int    `json:"numQuestions,omitempty"`
}

// ExamJobState is the worker output threaded into finalize.
type ExamJobState struct {
	ExamJobInput
	Exam  generation.PracticeExam `json:"exam"`
	Error string                  `json:"error"`
}

// ExamResult is the terminal practice exam workflow output.
type ExamResult struct {
	JobID         string `json:"jobId"`
	Status        string `json:"status"`
	QuestionCount int    `json:"questionCount"`
	UpdatedAt     string `json:"updatedAt"`
	Error         string `json:"error"`
}

// ExamWorker generates a practice exam for one course.
func (w *Workflows) ExamWorker(ctx context.Context, in ExamJobInput) ExamJobState {
	state := ExamJobState{ExamJobInput: in}
	if strings.TrimSpace(in.CourseID) == "" {
		state.Error = "courseId is required"
		return state
	}
	numQuestions := in.NumQuestions
	if numQuestions <= 0 {
		numQuestions = defaultNumQuestions
	}
	if numQuestions > maxNumQuestions {
		numQuestions = maxNumQuestions
	}

	exam, err := w.gen.GeneratePracticeExam(ctx, in.CourseID, numQuestions)
	if err != nil {
		w.log.Error("practice exam generation failed for job %s: %v", in.JobID, err)
		state.Error = err.Error()
		return state
	}
	state.Exam = exam
	return state
}

// ExamFinalize records the exam payload and marks the job terminal.
func (w *Workflows) ExamFinalize(ctx context.Context, in ExamJobState) (ExamResult, error) {
	jobID := strings.TrimSpace(in.JobID)
	errMsg := strings.TrimSpace(in.Error)
	status := StatusFinished
	if errMsg != "" {
		status = StatusFailed
	}
	now := timez.Format(w.now())

	if err := w.jobs.patchResult(ctx, jobID, status, errMsg, now, "exam", in.Exam, nil); err != nil {
		return ExamResult{}, err
	}
	return ExamResult{
		JobID:         jobID,
		Status:        status,
		QuestionCount: len(in.Exam.Questions),
		UpdatedAt:     now,
		Error:         errMsg,
	}, nil
}
