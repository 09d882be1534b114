package syncengine

import (
	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/repository"
	"github.com/iliyamo/temple-portals/internal/store"
)

// Typed readers over a session's views. Rows that fail to decode are
// skipped; they can only come from a broker that sent a partial row, and the
// next re-read replaces them.

func viewOf[T any](s *Session, resource string, decode func(store.Row) (T, error)) []T {
	rows, ok := s.Rows(resource)
	if !ok {
		return nil
	}
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := decode(r)
		if err != nil {
			s.log.WithError(err).WithField("resource", resource).Debug("skipping undecodable row")
			continue
		}
		out = append(out, v)
	}
	return out
}

// CurrentWeather returns the latest weather report held by the session.
func (s *Session) CurrentWeather() (model.WeatherReport, bool) {
	reports := viewOf(s, store.TableWeatherReports, repository.DecodeWeather)
	if len(reports) == 0 {
		return model.WeatherReport{}, false
	}
	return reports[0], true
}

// Announcements returns the portal's announcements, newest first.
func (s *Session) Announcements() []model.Announcement {
	return viewOf(s, store.TableAnnouncements, repository.DecodeAnnouncement)
}

// TicketPrices returns prices ordered by ticket type.
func (s *Session) TicketPrices() []model.TicketPrice {
	return viewOf(s, store.TableTicketPrices, repository.DecodeTicketPrice)
}

// RouteMaps returns route maps, newest first.
func (s *Session) RouteMaps() []model.RouteMap {
	return viewOf(s, store.TableRouteMaps, repository.DecodeRouteMap)
}

// Gallery returns gallery items, newest first.
func (s *Session) Gallery() []model.GalleryItem {
	return viewOf(s, store.TableGallery, repository.DecodeGalleryItem)
}

// PendingAccounts returns the pending working set ordered by id.
func (s *Session) PendingAccounts() []model.PendingAccount {
	return viewOf(s, store.TablePendingAccounts, repository.DecodePendingAccount)
}
