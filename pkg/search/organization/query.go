package organization

// Query fetches an organization with one page of its public repositories.
const Query = `
query OrganizationRepositories($orgName: String!, $first: Int!, $after: String) {
    rateLimit {
        cost
        limit
        nodeCount
        remaining
        resetAt
        used
    }
    organization(login: $orgName) {
        login
        name
        createdAt
        membersWithRole {
            totalCount
        }
        repositories(privacy: PUBLIC, first: $first, after: $after) {
            pageInfo {
                startCursor
                hasNextPage
                endCursor
            }
            nodes {
                ...RepositoryDetails
            }
        }
    }
}
fragment RepositoryDetails on Repository {
    nameWithOwner
    isInOrganization
    owner {
        login
    }
    forkCount
    stargazerCount
    pullRequests {
        totalCount
    }
    issues {
        totalCount
    }
    mentionableUsers {
        totalCount
    }
    watchers {
        totalCount
    }
    discussions {
        totalCount
    }
    createdAt
    isPrivate
    pushedAt
    visibility
    primaryLanguage {
        name
    }
    languages(first: 100) {
        edges {
            size
            node {
                name
            }
        }
    }
}
`
