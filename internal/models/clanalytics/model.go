package clanalytics

import "time"

// DateLayout est le format des clés journalières (YYYY-MM-DD)
const DateLayout = "2006-01-02"

// DailyTraffic compte les pages vues d'une journée
type DailyTraffic struct {
	Date    string `gorm:"column:date;primaryKey" json:"date"`
	PVCount int64  `gorm:"column:pv_count;default:0" json:"pv_count"`
}

// Visitor représente un visiteur unique
type Visitor struct {
	VisitorID      string `gorm:"column:visitor_id;primaryKey" json:"visitor_id"`
	FirstVisitDate string `gorm:"column:first_visit_date;type:text" json:"first_visit_date"`
	LastVisitDate  string `gorm:"column:last_visit_date;type:text" json:"last_visit_date"`
}

// Stats sont les trois compteurs affichés sur la page
type Stats struct {
	TodayUV int64 `json:"today_uv"`
	TotalUV int64 `json:"total_uv"`
	TodayPV int64 `json:"today_pv"`
}

type RealtimeStats struct {
	TodayPageViews      int64 `json:"today_page_views"`
	TodayUniqueVisitors int64 `json:"today_unique_visitors"`
}

func (DailyTraffic) TableName() string {
	return "daily_traffic"
}

func (Visitor) TableName() string {
	return "visitors"
}

// Today renvoie la date calendaire locale de now
func Today(now time.Time) string {
	return now.Format(DateLayout)
}
