package models

// Counter names one of the per-page tallies.
type Counter string

const (
	CounterPosts     Counter = "amount_of_posts"
	CounterLikes     Counter = "amount_of_likes"
	CounterFollowers Counter = "amount_of_followers"
)

// Counters returns every counter in a stable order.
func Counters() []Counter {
	return []Counter{CounterPosts, CounterLikes, CounterFollowers}
}

// Valid reports whether c is one of the known counters.
func (c Counter) Valid() bool {
	switch c {
	case CounterPosts, CounterLikes, CounterFollowers:
		return true
	}
	return false
}

// PageCounters holds the three tallies tracked for a page.
type PageCounters struct {
	AmountOfPosts     int64 `gorm:"column:amount_of_posts;not null" json:"amount_of_posts" dynamodbav:"amount_of_posts" bson:"amount_of_posts"`
	AmountOfLikes     int64 `gorm:"column:amount_of_likes;not null" json:"amount_of_likes" dynamodbav:"amount_of_likes" bson:"amount_of_likes"`
	AmountOfFollowers int64 `gorm:"column:amount_of_followers;not null" json:"amount_of_followers" dynamodbav:"amount_of_followers" bson:"amount_of_followers"`
}

// Get returns the value of the named counter.
func (p PageCounters) Get(c Counter) int64 {
	switch c {
	case CounterPosts:
		return p.AmountOfPosts
	case CounterLikes:
		return p.AmountOfLikes
	case CounterFollowers:
		return p.AmountOfFollowers
	}
	return 0
}

// Add applies delta to the named counter in place.
func (p *PageCounters) Add(c Counter, delta int64) {
	switch c {
	case CounterPosts:
		p.AmountOfPosts += delta
	case CounterLikes:
		p.AmountOfLikes += delta
	case CounterFollowers:
		p.AmountOfFollowers += delta
	}
}

// PageStatistics is the denormalized statistics record kept for one page.
// PageID is the only key; OwnerID scopes reads to the owning user.
type PageStatistics struct {
	PageID      int64        `gorm:"primaryKey;autoIncrement:false" json:"page_id" dynamodbav:"page_id" bson:"_id"`
	OwnerID     int64        `gorm:"not null" json:"owner_id" dynamodbav:"owner_id" bson:"owner_id"`
	Name        string       `gorm:"size:255;not null" json:"name" dynamodbav:"name" bson:"name"`
	Description string       `gorm:"type:text" json:"description" dynamodbav:"description" bson:"description"`
	Counters    PageCounters `gorm:"embedded" json:"counters" dynamodbav:"counters" bson:"counters"`
}

// TableName pins the SQL table name.
func (PageStatistics) TableName() string {
	return "page_statistics"
}

// PageMeta carries the display metadata overwritten by page updates.
type PageMeta struct {
	Name        string
	Description string
}
