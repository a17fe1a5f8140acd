package db

import (
	"encoding/json"
	"time"

	"github.com/kidandcat/workboard/internal/ref"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     int64     `json:"owner_id"`
	ManagerID   int64     `json:"manager_id,omitempty"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	StartDate   string    `json:"start_date,omitempty"`
	DueDate     string    `json:"due_date,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ProjectMember struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	UserID    int64     `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	User      *User     `json:"user,omitempty"` // joined
}

type ProjectTeam struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	TeamID    int64     `json:"team_id"`
	TeamName  string    `json:"team_name"` // joined
	Primary   bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
}

type TaskList struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
}

type Label struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
}

type Task struct {
	ID             int64      `json:"id"`
	ProjectID      int64      `json:"project_id"`
	ListID         int64      `json:"list_id,omitempty"`
	ParentTaskID   int64      `json:"parent_task_id,omitempty"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	AssigneeID     int64      `json:"assignee_id,omitempty"`
	CreatorID      int64      `json:"creator_id,omitempty"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority"`
	StartDate      string     `json:"start_date,omitempty"`
	DueDate        string     `json:"due_date,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty"`
	Position       int        `json:"position"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Labels         []Label    `json:"labels,omitempty"` // joined
}

type TaskDependency struct {
	ID          int64     `json:"id"`
	TaskID      int64     `json:"task_id"`
	DependsOnID int64     `json:"depends_on_id"`
	Type        string    `json:"dependency_type"`
	Status      string    `json:"depends_on_status"` // joined
	CreatedAt   time.Time `json:"created_at"`
}

type Team struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	LeaderID    int64     `json:"leader_id,omitempty"`
	Open        bool      `json:"is_open"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	MemberCount int       `json:"member_count"` // computed
}

type TeamMembership struct {
	ID       int64     `json:"id"`
	TeamID   int64     `json:"team_id"`
	UserID   int64     `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
	User     *User     `json:"user,omitempty"` // joined
}

type Invitation struct {
	ID          int64      `json:"id"`
	TeamID      int64      `json:"team_id"`
	TeamName    string     `json:"team_name"` // joined
	InviteeID   int64      `json:"invitee_id"`
	InviterID   int64      `json:"inviter_id,omitempty"`
	Role        string     `json:"role"`
	Message     string     `json:"message"`
	Status      string     `json:"status"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

type Comment struct {
	ID        int64      `json:"id"`
	Target    ref.Ref    `json:"target"`
	ParentID  int64      `json:"parent_id,omitempty"`
	AuthorID  int64      `json:"author_id,omitempty"`
	Body      string     `json:"body"`
	Edited    bool       `json:"is_edited"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Reactions []Reaction `json:"reactions,omitempty"` // joined
	Mentions  []int64    `json:"mentions,omitempty"`  // joined
}

type Reaction struct {
	Reaction string `json:"reaction"`
	Count    int    `json:"count"`
}

type Attachment struct {
	ID            int64     `json:"id"`
	Target        ref.Ref   `json:"target"`
	UploaderID    int64     `json:"uploader_id,omitempty"`
	Filename      string    `json:"filename"`
	ContentType   string    `json:"content_type"`
	Size          int64     `json:"size"`
	Digest        string    `json:"digest"`
	DownloadCount int64     `json:"download_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type Notification struct {
	ID          int64      `json:"id"`
	EventID     string     `json:"event_id"`
	RecipientID int64      `json:"recipient_id"`
	ActorID     int64      `json:"actor_id,omitempty"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Target      ref.Ref    `json:"target"`
	Read        bool       `json:"is_read"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

type Activity struct {
	ID          int64           `json:"id"`
	EventID     string          `json:"event_id"`
	UserID      int64           `json:"user_id,omitempty"`
	Action      string          `json:"action"`
	Target      ref.Ref         `json:"target"`
	ProjectID   int64           `json:"project_id,omitempty"`
	Description string          `json:"description"`
	Changes     json.RawMessage `json:"changes"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Page selects a window of a list query.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) limit() int {
	if p.Limit <= 0 {
		return -1
	}
	return p.Limit
}
