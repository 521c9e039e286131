package domain

// TicketStats aggregates the staff dashboard counters.
type TicketStats struct {
	Total                  int
	Open                   int
	InProgress             int
	WaitingResponse        int
	OpenLike               int
	Resolved               int
	Closed                 int
	SLABreached            int
	ByPriority             map[TicketPriority]int
	ByCategory             map[TicketCategory]int
	AvgResolutionTimeHours float64
}
